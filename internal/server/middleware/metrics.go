package middleware

import (
	"net/http"
	"time"
)

// HTTPRecorder records one served request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, elapsed time.Duration)
}

// Metrics records request counts and latency labelled by route pattern. It
// must wrap the ServeMux directly so the matched pattern is visible.
func Metrics(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			rec.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
		})
	}
}
