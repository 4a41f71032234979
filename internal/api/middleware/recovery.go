package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	apierrors "github.com/narvanalabs/pve-monitor/internal/api/errors"
	"github.com/narvanalabs/pve-monitor/internal/metrics"
)

// Recovery returns a middleware that turns a handler panic into a 500 with
// a correlation id. http.ErrAbortHandler is re-panicked so the server can
// abort the connection.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				metrics.RecordPanic()

				requestID := middleware.GetReqID(r.Context())
				entry := apierrors.NewErrorLogEntry(requestID, apierrors.CodeInternalError, "panic recovered")
				logger.Error("panic recovered",
					"error", rec,
					"correlation_id", entry.CorrelationID,
					"stack_trace", string(debug.Stack()),
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
				)

				apierrors.WriteError(w, apierrors.NewInternalError("An unexpected error occurred").
					WithRequestID(requestID).
					WithDetails(map[string]any{"correlation_id": entry.CorrelationID}))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
