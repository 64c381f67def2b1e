package v1

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/reqid"
	"github.com/tealfox/offliner/internal/requirements"
)

// Coordinator is the slice of the download manager the API needs.
type Coordinator interface {
	HandleAction(a *data.Action)
	DownloadState(id string) (*data.DownloadState, error)
	AllDownloadStates() data.DownloadStates
	StartDownloads()
	StopDownloads(manualStopReason int)
	StartDownload(id string)
	StopDownload(id string, manualStopReason int)
	Requirements() requirements.Requirements
	NotMetRequirements() requirements.Flags
	SetRequirements(reqs requirements.Requirements)
	IsInitialized() bool
}

// DownloadHandler serves the download coordination API.
type DownloadHandler struct {
	l     *slog.Logger
	coord Coordinator
}

type stopBody struct {
	Reason int `json:"reason"`
}

type requirementsBody struct {
	Required requirements.Flags `json:"required"`
}

type requirementsView struct {
	Required requirements.Flags `json:"required"`
	NotMet   requirements.Flags `json:"notMet"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyAction struct{}
type ctxKeyReqs struct{}

func NewDownloadHandler(l *slog.Logger, coord Coordinator) *DownloadHandler {
	return &DownloadHandler{l: l, coord: coord}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	states := dh.coord.AllDownloadStates()
	if states == nil {
		states = data.DownloadStates{}
	}
	if err := states.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
	}
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, err := dh.coord.DownloadState(id)
	if err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = state.ToJSON(w)
}

// SubmitAction accepts a download or remove action validated upstream and
// hands it to the coordinator. The action is accepted even while the
// manager is still replaying persisted actions.
func (dh *DownloadHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyAction{})
	a, ok := v.(*data.Action)
	if !ok || a == nil {
		markErr(w, ErrActionCtx)
		http.Error(w, ErrActionCtx.Error(), http.StatusInternalServerError)
		return
	}
	dh.coord.HandleAction(a)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = a.ToJSON(w)
}

func (dh *DownloadHandler) StartDownloads(w http.ResponseWriter, r *http.Request) {
	dh.coord.StartDownloads()
	w.WriteHeader(http.StatusNoContent)
}

func (dh *DownloadHandler) StopDownloads(w http.ResponseWriter, r *http.Request) {
	dh.coord.StopDownloads(decodeStopReason(w, r))
	w.WriteHeader(http.StatusNoContent)
}

func (dh *DownloadHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := dh.coord.DownloadState(id); err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	dh.coord.StartDownload(id)
	w.WriteHeader(http.StatusNoContent)
}

func (dh *DownloadHandler) StopDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reason := decodeStopReason(w, r)
	if _, err := dh.coord.DownloadState(id); err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	dh.coord.StopDownload(id, reason)
	w.WriteHeader(http.StatusNoContent)
}

func (dh *DownloadHandler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	view := requirementsView{
		Required: dh.coord.Requirements().Required,
		NotMet:   dh.coord.NotMetRequirements(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, view); err != nil {
		markErr(w, err)
	}
}

func (dh *DownloadHandler) PutRequirements(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyReqs{})
	body, ok := v.(requirementsBody)
	if !ok {
		markErr(w, ErrReqsCtx)
		http.Error(w, ErrReqsCtx.Error(), http.StatusInternalServerError)
		return
	}
	dh.coord.SetRequirements(requirements.Requirements{Required: body.Required})
	view := requirementsView{
		Required: body.Required,
		NotMet:   dh.coord.NotMetRequirements(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, view); err != nil {
		markErr(w, err)
	}
}

// Readyz reports readiness once the persisted action set has been loaded.
func (dh *DownloadHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !dh.coord.IsInitialized() {
		http.Error(w, "loading", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// decodeStopReason reads the optional {"reason": n} body; a missing or
// empty body means reason 0.
func decodeStopReason(w http.ResponseWriter, r *http.Request) int {
	var body stopBody
	if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil && !errors.Is(err, io.EOF) {
		return 0
	}
	return body.Reason
}

func (dh *DownloadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades need the raw ResponseWriter for hijacking.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		id, _ := reqid.From(r.Context())
		hErr := rw.err
		if hErr != nil {
			dh.l.Error(hErr.Error(),
				"request_id", id,
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		dh.l.Info("", "request_id", id,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
