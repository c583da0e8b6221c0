package metrics

import (
	"net/http"

	"replay-merge/internal/platform/logger"
)

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi middleware that counts requests and error
// responses (status >= 400) per matched route pattern. Unmatched requests are
// counted under "unmatched" so path scans cannot blow up label cardinality.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)

			route := logger.RoutePattern(r)
			m.IncRequests(route)
			if wrap.status >= 400 {
				m.IncErrors(route)
			}
		})
	}
}
