package api

import (
	"net/http"
	"time"

	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/rs/zerolog"
)

// instrument wraps an HTTP handler so every call is counted and timed under
// the method name given, the HTTP analog of per-RPC instrumentation.
func instrument(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		status := "success"
		if sw.status >= 400 {
			status = "error"
		}
		metrics.APIRequestsTotal.WithLabelValues(method, status).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	}
}

// statusWriter captures the status code a handler wrote, for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requestLog is a mux-compatible access-log middleware, terse and
// structured (pkg/log wraps zerolog throughout the rest of this repository).
func requestLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).Dur("duration", time.Since(start)).Msg("api request")
		})
	}
}
