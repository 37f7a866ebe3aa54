package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures CachedLookups
type CacheConfig struct {
	// L1Size is the number of in-process entries
	L1Size int
	// L1TTL bounds how long an in-process entry is served
	L1TTL time.Duration
	// RedisTTL bounds how long a shared entry is served
	RedisTTL time.Duration
	// APIKeyTTL bounds how long an API-key mapping is served from either
	// tier. Zero leaves API-key lookups uncached so revocation and expiry
	// apply on the next request.
	APIKeyTTL time.Duration
	// LoadTimeout bounds a store load shared by concurrent callers
	LoadTimeout time.Duration
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
}

// DefaultCacheConfig returns sensible cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		L1Size:      4096,
		L1TTL:       30 * time.Second,
		RedisTTL:    5 * time.Minute,
		LoadTimeout: 2 * time.Second,
		KeyPrefix:   "tenantguard:",
	}
}

// tier is one cached mapping kind with its own expiry
type tier struct {
	kind     string
	op       string
	l1       *lru.LRU[string, string]
	redisTTL time.Duration
}

// CachedLookups caches the subdomain and, when APIKeyTTL is set, the API-key
// to tenant mappings in an in-process LRU and, when configured, in Redis.
// Every other lookup passes straight through: memberships, roles and tenant
// status are never cached.
//
// A cached subdomain mapping is served for at most RedisTTL plus L1TTL after
// it changes; an API-key mapping for at most twice APIKeyTTL.
type CachedLookups struct {
	MembershipStore

	config     CacheConfig
	subdomains tier
	apiKeys    *tier
	redis      *redis.Client
	group      singleflight.Group
	logger     logrus.FieldLogger

	observe func(kind string, hit bool)
}

// NewCachedLookups wraps next. redisClient may be nil.
func NewCachedLookups(next MembershipStore, redisClient *redis.Client, config CacheConfig, logger logrus.FieldLogger) *CachedLookups {
	defaults := DefaultCacheConfig()
	if config.L1Size <= 0 {
		config.L1Size = defaults.L1Size
	}
	if config.L1TTL <= 0 {
		config.L1TTL = defaults.L1TTL
	}
	if config.RedisTTL <= 0 {
		config.RedisTTL = defaults.RedisTTL
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = defaults.LoadTimeout
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &CachedLookups{
		MembershipStore: next,
		config:          config,
		subdomains: tier{
			kind:     "subdomain",
			op:       OpTenantBySubdomain,
			l1:       lru.NewLRU[string, string](config.L1Size, nil, config.L1TTL),
			redisTTL: config.RedisTTL,
		},
		redis:  redisClient,
		logger: logger,
	}
	if config.APIKeyTTL > 0 {
		c.apiKeys = &tier{
			kind:     "apikey",
			op:       OpTenantByAPIKeyHash,
			l1:       lru.NewLRU[string, string](config.L1Size, nil, min(config.L1TTL, config.APIKeyTTL)),
			redisTTL: config.APIKeyTTL,
		}
	}
	return c
}

// Observe registers fn to be told about every lookup: kind is "subdomain" or
// "apikey", hit reports whether a cache tier answered.
func (c *CachedLookups) Observe(fn func(kind string, hit bool)) {
	c.observe = fn
}

// TenantBySubdomain maps a subdomain label to a tenant id
func (c *CachedLookups) TenantBySubdomain(ctx context.Context, subdomain string) (string, error) {
	return c.lookup(ctx, &c.subdomains, subdomain, func(ctx context.Context) (string, error) {
		return c.MembershipStore.TenantBySubdomain(ctx, subdomain)
	})
}

// TenantByAPIKeyHash maps an API key hash to a tenant id
func (c *CachedLookups) TenantByAPIKeyHash(ctx context.Context, hash string) (string, error) {
	if c.apiKeys == nil {
		c.record("apikey", false)
		return c.MembershipStore.TenantByAPIKeyHash(ctx, hash)
	}
	return c.lookup(ctx, c.apiKeys, hash, func(ctx context.Context) (string, error) {
		return c.MembershipStore.TenantByAPIKeyHash(ctx, hash)
	})
}

// lookup serves from L1, then Redis, then the wrapped store. Concurrent misses
// for the same key share one load that runs detached from any single caller,
// so a caller that goes away only abandons its own wait. Misses and failures
// are not cached.
func (c *CachedLookups) lookup(ctx context.Context, t *tier, value string, load func(context.Context) (string, error)) (string, error) {
	key := c.config.KeyPrefix + t.kind + ":" + value

	if tenantID, ok := t.l1.Get(key); ok {
		c.record(t.kind, true)
		return tenantID, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LoadTimeout)
		defer cancel()

		if c.redis != nil {
			tenantID, err := c.redis.Get(loadCtx, key).Result()
			if err == nil {
				t.l1.Add(key, tenantID)
				c.record(t.kind, true)
				return tenantID, nil
			}
			if !errors.Is(err, redis.Nil) {
				c.logger.WithError(err).WithField("key", key).Warn("redis lookup failed, falling back to store")
			}
		}

		c.record(t.kind, false)
		tenantID, err := load(loadCtx)
		if err != nil {
			return "", err
		}

		t.l1.Add(key, tenantID)
		if c.redis != nil {
			if err := c.redis.Set(loadCtx, key, tenantID, t.redisTTL).Err(); err != nil {
				c.logger.WithError(err).WithField("key", key).Warn("failed to populate redis cache")
			}
		}
		return tenantID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", unavailable(t.op, ctx.Err())
	}
}

func (c *CachedLookups) record(kind string, hit bool) {
	if c.observe != nil {
		c.observe(kind, hit)
	}
}
