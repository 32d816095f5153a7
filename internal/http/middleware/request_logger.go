package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// RequestLogger writes one structured line per request once the
// response is done. The request id comes from chi's RequestID
// middleware; the tenant header is included when a practice client
// sends it.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				fields = append(fields, "request_id", reqID)
			}
			if tenant := r.Header.Get("X-Tenant-Id"); tenant != "" {
				fields = append(fields, "tenant_id", tenant)
			}
			log.Info("request completed", fields...)
		})
	}
}
