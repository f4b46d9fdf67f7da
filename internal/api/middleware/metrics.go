package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses identifiers to avoid high cardinality in metrics.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/users/"):
		return "/v1/users/:did"
	case strings.HasPrefix(path, "/v1/chat/groups/"):
		rest := strings.TrimPrefix(path, "/v1/chat/groups/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			return "/v1/chat/groups/:chatId"
		}
		if strings.HasPrefix(parts[1], "access/") {
			return "/v1/chat/groups/:chatId/access/:did"
		}
		return "/v1/chat/groups/:chatId/" + parts[1]
	case strings.HasPrefix(path, "/v1/chat/") && strings.HasSuffix(path, "/messages"):
		return "/v1/chat/:chatId/messages"
	}
	return path
}
