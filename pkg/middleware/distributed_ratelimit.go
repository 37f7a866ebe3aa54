package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts failed attempts in Redis so that every
// instance sees the same totals. Each failure extends the window, so a key
// is released only after WindowDuration without failures.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "tenantguard:authfail"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Blocked implements AttemptLimiter
func (rl *DistributedRateLimiter) Blocked(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return false, 0, nil
	} else if err != nil {
		return false, 0, fmt.Errorf("redis error: %w", err)
	}
	if count < rl.config.MaxFailures {
		return false, 0, nil
	}

	ttl, err := rl.redis.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.config.WindowDuration
	}
	return true, ttl, nil
}

// Fail implements AttemptLimiter
func (rl *DistributedRateLimiter) Fail(ctx context.Context, key string) error {
	redisKey := rl.key(key)

	pipe := rl.redis.Pipeline()
	pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Reset clears the failures recorded for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
