package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger logs to multiple audit sinks
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes every event to each sink in order
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes event to every sink. A failing sink does not stop the others;
// all failures are joined into the returned error.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Search delegates to the first sink that supports it
func (m *MultiLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	for _, logger := range m.loggers {
		if s, ok := logger.(Searcher); ok {
			return s.Search(ctx, filter)
		}
	}
	return nil, errors.New("no searchable audit sink configured")
}

// Close closes all sinks
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
