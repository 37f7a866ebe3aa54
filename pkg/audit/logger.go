package audit

import (
	"context"
	"errors"
)

// ErrTenantRequired is returned by searches that do not name a tenant
var ErrTenantRequired = errors.New("tenant is required")

// Logger is the interface for audit sinks
type Logger interface {
	// Log appends one event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// Searcher reads back events of one tenant
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// NoOpLogger discards every event
type NoOpLogger struct{}

// Log implements Logger
func (NoOpLogger) Log(context.Context, *Event) error { return nil }

// Close implements Logger
func (NoOpLogger) Close() error { return nil }
