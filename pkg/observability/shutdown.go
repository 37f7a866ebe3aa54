package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the HTTP server, then runs the registered cleanup
// functions concurrently within one deadline.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a shutdown manager. A zero timeout means 30s.
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register adds a named cleanup function
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// Wait blocks until ctx is done, then shuts everything down
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	<-ctx.Done()
	sm.logger.Info("Shutdown requested")
	return sm.Shutdown()
}

// Shutdown stops the server and runs every cleanup function. Errors from all
// of them are joined.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdown(nil), sm.funcs...)
	sm.mu.Unlock()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range funcs {
		f := f
		g.Go(func() error {
			if err := f.fn(gctx); err != nil {
				sm.logger.WithError(err).WithField("component", f.name).Error("Shutdown function failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
