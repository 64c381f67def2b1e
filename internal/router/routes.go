package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tealfox/offliner/api/v1"
	"github.com/tealfox/offliner/internal/auth"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, coord v1.Coordinator, hub *v1.EventHub) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	downloadHandler := v1.NewDownloadHandler(logger, coord)

	r.HandleFunc("/readyz", downloadHandler.Readyz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// RequestID runs ahead of Log so the access log can carry the id.
	r.Use(v1.RequestID)
	r.Use(downloadHandler.Log)
	r.Use(auth.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/downloads", downloadHandler.GetDownloads)
	get.HandleFunc("/downloads/{id}", downloadHandler.GetDownload)
	get.HandleFunc("/requirements", downloadHandler.GetRequirements)
	if hub != nil {
		get.HandleFunc("/events", hub.Stream)
	}

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/downloads/start", downloadHandler.StartDownloads)
	post.HandleFunc("/downloads/stop", downloadHandler.StopDownloads)
	post.HandleFunc("/downloads/{id}/start", downloadHandler.StartDownload)
	post.HandleFunc("/downloads/{id}/stop", downloadHandler.StopDownload)

	actions := api.PathPrefix("/actions").Methods("POST").Subrouter()
	actions.HandleFunc("", downloadHandler.SubmitAction)
	actions.Use(v1.MiddlewareActionValidation)

	// PUTs
	put := api.Methods("PUT").Subrouter()
	put.HandleFunc("/requirements", downloadHandler.PutRequirements)
	put.Use(v1.MiddlewareRequirementsValidation)

	return r
}
