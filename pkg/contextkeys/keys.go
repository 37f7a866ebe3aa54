// Package contextkeys provides centralized context key definitions and the
// per-request authorization context.
//
// All context keys used across the application are defined here.
//
// USAGE PATTERN:
//
//	rc := contextkeys.NewRequestContext(correlationID, clientIP, userAgent)
//	ctx = contextkeys.WithRequestContext(ctx, rc.WithPrincipal(p))
//	rc, ok := contextkeys.RequestContextFrom(ctx)
package contextkeys

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestContextKey contains RequestContext
	// Set by: middleware.Guard at every stage (pkg/middleware/guard.go)
	// Required by: handlers and the permission engine callers
	// Type: RequestContext
	RequestContextKey Key = "request_context"

	// LoggerKey contains logrus.FieldLogger
	// Set by: middleware.Correlation
	// Used by: handlers that log with request fields attached
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithRequestContext stores rc in ctx. rc is a value, so later stages must
// store their derived copy explicitly.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, RequestContextKey, rc)
}

// RequestContextFrom retrieves the request context, if any
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(RequestContextKey).(RequestContext)
	return rc, ok
}

// GetCorrelationID retrieves the correlation id from context
func GetCorrelationID(ctx context.Context) string {
	if rc, ok := RequestContextFrom(ctx); ok {
		return rc.CorrelationID()
	}
	return ""
}

// GetUserID retrieves the authenticated user id from context
func GetUserID(ctx context.Context) string {
	if rc, ok := RequestContextFrom(ctx); ok {
		if p := rc.Principal(); p != nil {
			return p.UserID
		}
	}
	return ""
}

// WithLogger adds a request-scoped logger to the context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// Logger returns the request-scoped logger, or fallback when none was set
func Logger(ctx context.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := ctx.Value(LoggerKey).(logrus.FieldLogger); ok && l != nil {
		return l
	}
	return fallback
}
