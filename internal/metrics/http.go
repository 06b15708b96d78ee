package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// otherPath labels requests for paths the service does not serve, so
// scanners cannot blow up label cardinality.
const otherPath = "other"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPMiddleware records request counts and latency per route. Only the
// configured paths and auth actions become label values.
type HTTPMiddleware struct {
	paths   map[string]bool
	actions map[string]bool
}

// NewHTTPMiddleware creates the middleware. paths are the exact request
// paths the service mounts; actions are the accepted values of the auth
// endpoint's action parameter.
func NewHTTPMiddleware(paths, actions []string) *HTTPMiddleware {
	m := &HTTPMiddleware{
		paths:   make(map[string]bool, len(paths)),
		actions: make(map[string]bool, len(actions)),
	}
	for _, p := range paths {
		m.paths[p] = true
	}
	for _, a := range actions {
		m.actions[a] = true
	}
	return m
}

// Handler wraps next with request metrics.
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint to avoid recursion
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path, action := m.labels(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, action, strconv.Itoa(rw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPMiddleware) labels(r *http.Request) (path, action string) {
	path = r.URL.Path
	if !m.paths[path] {
		return otherPath, ""
	}
	if a := r.URL.Query().Get("action"); m.actions[a] {
		action = a
	}
	return path, action
}
