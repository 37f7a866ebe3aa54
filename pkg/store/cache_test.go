package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// setupCacheTest returns a memory store wrapped in CachedLookups backed by miniredis
func setupCacheTest(t *testing.T) (*CachedLookups, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := NewMemoryStore()
	backing.PutSubdomain("acme", "t1")
	backing.PutAPIKey(APIKeyBinding{KeyHash: "abc123", TenantID: "t2", Active: true})

	cache := NewCachedLookups(backing, client, CacheConfig{L1TTL: time.Minute, RedisTTL: time.Hour}, quietLogger())
	return cache, backing, mr
}

func TestCachedLookups_L1Hit(t *testing.T) {
	cache, backing, _ := setupCacheTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := cache.TenantBySubdomain(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "t1", id)
	}
	assert.Equal(t, 1, backing.Calls(OpTenantBySubdomain))
}

func TestCachedLookups_PopulatesRedis(t *testing.T) {
	cache, _, mr := setupCacheTest(t)
	ctx := context.Background()

	_, err := cache.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)

	got, err := mr.Get("tenantguard:subdomain:acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", got)
	assert.Equal(t, time.Hour, mr.TTL("tenantguard:subdomain:acme"))
}

func TestCachedLookups_APIKeysUncachedByDefault(t *testing.T) {
	cache, backing, mr := setupCacheTest(t)
	ctx := context.Background()

	id, err := cache.TenantByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "t2", id)
	assert.False(t, mr.Exists("tenantguard:apikey:abc123"))

	// revoking the key takes effect on the very next lookup
	backing.PutAPIKey(APIKeyBinding{KeyHash: "abc123", TenantID: "t2", Active: false})
	_, err = cache.TenantByAPIKeyHash(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backing.Calls(OpTenantByAPIKeyHash))
}

func TestCachedLookups_APIKeyTTLBoundsStaleness(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := NewMemoryStore()
	backing.PutAPIKey(APIKeyBinding{KeyHash: "abc123", TenantID: "t2", Active: true})
	cache := NewCachedLookups(backing, client, CacheConfig{
		L1TTL:     time.Minute,
		RedisTTL:  time.Hour,
		APIKeyTTL: 50 * time.Millisecond,
	}, quietLogger())
	ctx := context.Background()

	_, err = cache.TenantByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	_, err = cache.TenantByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.Calls(OpTenantByAPIKeyHash))
	assert.Equal(t, 50*time.Millisecond, mr.TTL("tenantguard:apikey:abc123"))

	backing.PutAPIKey(APIKeyBinding{KeyHash: "abc123", TenantID: "t2", Active: false})
	mr.FastForward(time.Second)

	assert.Eventually(t, func() bool {
		_, err := cache.TenantByAPIKeyHash(ctx, "abc123")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestCachedLookups_RedisHit(t *testing.T) {
	cache, backing, mr := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("tenantguard:subdomain:globex", "t9"))

	id, err := cache.TenantBySubdomain(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, "t9", id)
	assert.Equal(t, 0, backing.Calls(OpTenantBySubdomain))
}

func TestCachedLookups_MissesAreNotCached(t *testing.T) {
	cache, backing, mr := setupCacheTest(t)
	ctx := context.Background()

	_, err := cache.TenantBySubdomain(ctx, "initech")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("tenantguard:subdomain:initech"))

	backing.PutSubdomain("initech", "t3")
	id, err := cache.TenantBySubdomain(ctx, "initech")
	require.NoError(t, err)
	assert.Equal(t, "t3", id)
	assert.Equal(t, 2, backing.Calls(OpTenantBySubdomain))
}

func TestCachedLookups_FailuresAreNotCached(t *testing.T) {
	cache, backing, _ := setupCacheTest(t)
	ctx := context.Background()

	backing.FailWith(OpTenantBySubdomain, errors.New("connection reset"))
	_, err := cache.TenantBySubdomain(ctx, "acme")
	assert.True(t, IsUnavailable(err))

	backing.FailWith(OpTenantBySubdomain, nil)
	id, err := cache.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestCachedLookups_RedisDownFallsBackToStore(t *testing.T) {
	cache, backing, mr := setupCacheTest(t)
	mr.Close()

	id, err := cache.TenantBySubdomain(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
	assert.Equal(t, 1, backing.Calls(OpTenantBySubdomain))
}

func TestCachedLookups_WithoutRedis(t *testing.T) {
	backing := NewMemoryStore()
	backing.PutSubdomain("acme", "t1")
	cache := NewCachedLookups(backing, nil, CacheConfig{}, quietLogger())

	id, err := cache.TenantBySubdomain(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestCachedLookups_PassThrough(t *testing.T) {
	cache, backing, _ := setupCacheTest(t)
	ctx := context.Background()
	role := backing.PutRole(Role{TenantID: "t1", Name: "staff"})
	backing.PutMembership(Membership{TenantID: "t1", UserID: "alice", RoleID: role.ID, Status: MembershipActive})

	_, err := cache.ActiveRoleOf(ctx, "alice", "t1")
	require.NoError(t, err)
	require.NoError(t, backing.SetMembershipStatus(ctx, "t1", "alice", MembershipSuspended))

	// Membership reads are never cached
	_, err = cache.ActiveRoleOf(ctx, "alice", "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedLookups_ConcurrentMisses(t *testing.T) {
	cache, backing, _ := setupCacheTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := cache.TenantBySubdomain(ctx, "acme")
			assert.NoError(t, err)
			assert.Equal(t, "t1", id)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backing.Calls(OpTenantBySubdomain), 20)
	assert.GreaterOrEqual(t, backing.Calls(OpTenantBySubdomain), 1)
}

// gatedStore holds subdomain lookups until release is closed
type gatedStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) TenantBySubdomain(ctx context.Context, subdomain string) (string, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", unavailable(OpTenantBySubdomain, ctx.Err())
	}
	return s.MemoryStore.TenantBySubdomain(ctx, subdomain)
}

func TestCachedLookups_CancelledCallerDoesNotFailOthers(t *testing.T) {
	backing := NewMemoryStore()
	backing.PutSubdomain("acme", "t1")
	gated := &gatedStore{MemoryStore: backing, started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCachedLookups(gated, nil, CacheConfig{}, quietLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.TenantBySubdomain(firstCtx, "acme")
		firstErr <- err
	}()
	<-gated.started

	type result struct {
		id  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := cache.TenantBySubdomain(context.Background(), "acme")
		second <- result{id, err}
	}()

	cancelFirst()
	err := <-firstErr
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(gated.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "t1", got.id)
	assert.Equal(t, 1, backing.Calls(OpTenantBySubdomain))
}

func TestCachedLookups_Observe(t *testing.T) {
	cache, _, _ := setupCacheTest(t)
	ctx := context.Background()

	var hits, misses []string
	cache.Observe(func(kind string, hit bool) {
		if hit {
			hits = append(hits, kind)
		} else {
			misses = append(misses, kind)
		}
	})

	_, err := cache.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)
	_, err = cache.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)
	_, err = cache.TenantByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)

	assert.Equal(t, []string{"subdomain"}, hits)
	assert.Equal(t, []string{"subdomain", "apikey"}, misses)
}
