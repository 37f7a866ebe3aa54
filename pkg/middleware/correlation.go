package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// RequestIDHeader is accepted as a correlation id when X-Correlation-ID is absent
const RequestIDHeader = "X-Request-ID"

// maxCorrelationIDLength bounds client-supplied ids
const maxCorrelationIDLength = 128

// Correlation starts the request context. It takes the correlation id from
// the request headers or generates one, echoes it in the response and attaches
// a request logger carrying it.
func Correlation(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := contextkeys.NewRequestContext(correlationIDFrom(r), httputil.ClientIP(r), r.UserAgent())
			w.Header().Set(httputil.CorrelationHeader, rc.CorrelationID())

			ctx := contextkeys.WithRequestContext(r.Context(), rc)
			ctx = contextkeys.WithLogger(ctx, logger.WithField("correlation_id", rc.CorrelationID()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func correlationIDFrom(r *http.Request) string {
	for _, header := range []string{httputil.CorrelationHeader, RequestIDHeader} {
		id := strings.TrimSpace(r.Header.Get(header))
		if id != "" && len(id) <= maxCorrelationIDLength {
			return id
		}
	}
	return uuid.New().String()
}
