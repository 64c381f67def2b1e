package v1

import (
	"context"
	"net/http"

	"github.com/tealfox/offliner/internal/data"
)

func MiddlewareActionValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := &data.Action{}
		if err := decodeJSONStrict(w, r, a, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := a.Validate(); err != nil {
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAction{}, a)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MiddlewareRequirementsValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requirementsBody
		if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyReqs{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
