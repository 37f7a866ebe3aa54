package middleware

import (
	"context"
	"sync"
	"time"
)

// AttemptLimiter throttles clients that keep presenting bad credentials
type AttemptLimiter interface {
	// Blocked reports whether key has used up its failed attempts and how long
	// until it may try again
	Blocked(ctx context.Context, key string) (bool, time.Duration, error)

	// Fail records one failed attempt for key
	Fail(ctx context.Context, key string) error
}

// RateLimitConfig defines failed-attempt throttling
type RateLimitConfig struct {
	// MaxFailures is the number of failed attempts allowed in one window
	MaxFailures int
	// WindowDuration is the time window failures are counted in
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default throttling settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxFailures:    20,
		WindowDuration: time.Minute,
	}
}

// RateLimiter counts failed attempts per key in fixed windows, in process
type RateLimiter struct {
	config  *RateLimitConfig
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

type window struct {
	failures int
	start    time.Time
}

// NewRateLimiter creates a new in-memory limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Blocked implements AttemptLimiter
func (rl *RateLimiter) Blocked(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok {
		return false, 0, nil
	}

	remaining := w.start.Add(rl.config.WindowDuration).Sub(rl.now())
	if remaining <= 0 {
		delete(rl.windows, key)
		return false, 0, nil
	}
	return w.failures >= rl.config.MaxFailures, remaining, nil
}

// Fail implements AttemptLimiter
func (rl *RateLimiter) Fail(_ context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.config.WindowDuration {
		w = &window{start: now}
		rl.windows[key] = w
	}
	w.failures++
	return nil
}

// Cleanup removes expired windows (should be called periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.config.WindowDuration {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup expired windows
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// size returns the number of tracked keys
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
