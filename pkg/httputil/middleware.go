package httputil

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/authz"
)

// LoggingMiddleware logs one line per request
func LoggingMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Capture the status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.WithFields(logrus.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"status":         rw.statusCode,
				"duration_ms":    time.Since(start).Milliseconds(),
				"client_ip":      ClientIP(r),
				"correlation_id": w.Header().Get(CorrelationHeader),
			}).Info("request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns a 500 INTERNAL error
func RecoveryMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(logrus.Fields{
						"panic": rec,
						"stack": string(debug.Stack()),
						"path":  r.URL.Path,
					}).Error("recovered from panic")
					WriteAuthzError(w, authz.ErrInternal(), w.Header().Get(CorrelationHeader))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
