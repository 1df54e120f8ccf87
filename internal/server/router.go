// Package server implements the HTTP server and routing logic for the
// signup API. The HTTP layer is thin glue: request parsing, field-level
// validation, and status-code mapping; all table logic lives behind the
// coordinator.
package server

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRouter creates and configures the HTTP router. writeLimiter may be nil
// to disable rate limiting on write endpoints.
func NewRouter(h *Handlers, writeLimiter *Limiter) http.Handler {
	mux := &http.ServeMux{}

	mux.Handle("GET /api/health", WrapGet(h.Health))
	mux.Handle("GET /api/signups", WrapGet(h.List))
	mux.Handle("GET /api/signups/export", http.HandlerFunc(h.Export))

	mux.Handle("POST /api/signups", limit(writeLimiter, Wrap(h.Submit)))
	mux.Handle("DELETE /api/signups", limit(writeLimiter, Wrap(h.Delete)))
	mux.Handle("PUT /api/signups/prize", limit(writeLimiter, Wrap(h.Prize)))
	mux.Handle("POST /api/sync", limit(writeLimiter, Wrap(h.Sync)))

	return accessLog(mux)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog logs one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"dur", time.Since(start).Round(time.Millisecond),
			"ip", clientIP(r))
	})
}
