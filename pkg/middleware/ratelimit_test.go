package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/auth"
)

func TestRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{MaxFailures: 3, WindowDuration: time.Minute})
	ctx := context.Background()
	key := "ip:10.0.0.1"

	for i := 0; i < 3; i++ {
		blocked, _, err := limiter.Blocked(ctx, key)
		require.NoError(t, err)
		assert.False(t, blocked, "attempt %d", i)
		require.NoError(t, limiter.Fail(ctx, key))
	}

	blocked, retryAfter, err := limiter.Blocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, retryAfter > 0 && retryAfter <= time.Minute)

	other, _, _ := limiter.Blocked(ctx, "ip:10.0.0.2")
	assert.False(t, other)
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{MaxFailures: 1, WindowDuration: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, limiter.Fail(ctx, "k"))
	blocked, _, _ := limiter.Blocked(ctx, "k")
	require.True(t, blocked)

	now = now.Add(time.Minute)
	blocked, _, _ = limiter.Blocked(ctx, "k")
	assert.False(t, blocked)
	assert.Equal(t, 0, limiter.size())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{MaxFailures: 5, WindowDuration: time.Second})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	require.NoError(t, limiter.Fail(context.Background(), "a"))
	require.NoError(t, limiter.Fail(context.Background(), "b"))
	assert.Equal(t, 2, limiter.size())

	now = now.Add(2 * time.Second)
	limiter.Cleanup()
	assert.Equal(t, 0, limiter.size())
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{MaxFailures: 5, WindowDuration: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, limiter.Fail(ctx, "a"))
	limiter.StartCleanup(ctx)

	assert.Eventually(t, func() bool { return limiter.size() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{MaxFailures: 100, WindowDuration: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Fail(ctx, "shared")
			_, _, _ = limiter.Blocked(ctx, "shared")
		}()
	}
	wg.Wait()

	blocked, _, _ := limiter.Blocked(ctx, "shared")
	assert.False(t, blocked)
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.Fail(ctx, "shared"))
	}
	blocked, _, _ = limiter.Blocked(ctx, "shared")
	assert.True(t, blocked)
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	assert.Equal(t, DefaultRateLimitConfig(), limiter.config)
}

func setupDistributedLimiter(t *testing.T, max int) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, &RateLimitConfig{MaxFailures: max, WindowDuration: time.Minute}, ""), mr
}

func TestDistributedRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 2)
	ctx := context.Background()

	require.NoError(t, limiter.Fail(ctx, "ip:10.0.0.1"))
	blocked, _, err := limiter.Blocked(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, limiter.Fail(ctx, "ip:10.0.0.1"))
	blocked, retryAfter, err := limiter.Blocked(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, time.Minute, retryAfter)

	got, err := mr.Get("tenantguard:authfail:ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	mr.FastForward(time.Minute)
	blocked, _, err = limiter.Blocked(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	limiter, _ := setupDistributedLimiter(t, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Fail(ctx, "k"))
	blocked, _, _ := limiter.Blocked(ctx, "k")
	require.True(t, blocked)

	require.NoError(t, limiter.Reset(ctx, "k"))
	blocked, _, _ = limiter.Blocked(ctx, "k")
	assert.False(t, blocked)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 1)
	mr.Close()

	_, _, err := limiter.Blocked(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, limiter.Fail(context.Background(), "k"))
}

func TestAuthenticate_LimiterDownFailsOpen(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 1)
	f := newGuardFixture(t, limiter)
	mr.Close()

	h := f.guard.Authenticate(okHandler())
	w := do(h, request{token: f.token(t, &auth.Principal{UserID: "viewer-1"})})
	assert.Equal(t, 200, w.Code)
}
