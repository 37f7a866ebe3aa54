package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Instrument records request counts and latency per route template. Use it
// as mux router middleware so the matched route is known.
func Instrument(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			metrics.RecordHTTPRequest(r.Method, routeOf(r), sw.status, time.Since(start))
		})
	}
}

// routeOf returns the route template, keeping label cardinality bounded
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
