package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/pve-monitor/pkg/logger"
)

// LogContext copies the request ID assigned by chi into the logging context.
// It must run after middleware.RequestID.
func LogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ConnectionContext tags the logging context with the {connectionID} route
// parameter.
func ConnectionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chi.URLParam(r, "connectionID"); id != "" {
			r = r.WithContext(logger.ContextWithConnectionID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
