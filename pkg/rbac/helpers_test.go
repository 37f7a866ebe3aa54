package rbac

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/store"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "22222222-2222-2222-2222-222222222222"
)

// fixture seeds two tenants with the system roles plus tenant roles:
//
//	owner-1    owner    tenantA
//	manager-1  manager  tenantA
//	auditor-1  auditor  tenantA (tenant role: audit:read, reports:read)
//	viewer-1   viewer   tenantA
//	empty-1    empty    tenantA (tenant role without grants)
//	viewer-1   viewer   tenantB
type fixture struct {
	store    *store.MemoryStore
	recorder *audit.Recorder
	metrics  *observability.Metrics
	hook     *test.Hook
	engine   *Engine
	admin    *Admin
	roles    map[string]store.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore builds the fixture, letting wrap replace the store the
// engine reads from
func newFixtureWithStore(t *testing.T, wrap func(*store.MemoryStore) store.MembershipStore) *fixture {
	t.Helper()

	f := &fixture{
		store:    store.NewMemoryStore(),
		recorder: audit.NewRecorder(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		roles:    make(map[string]store.Role),
	}

	f.store.PutTenant(store.Tenant{ID: tenantA, Name: "Acme", Slug: "acme", Status: store.TenantStatusActive})
	f.store.PutTenant(store.Tenant{ID: tenantB, Name: "Globex", Slug: "globex", Status: store.TenantStatusActive})

	for _, tmpl := range SystemRoles() {
		perms := make([]string, len(tmpl.Permissions))
		for i, p := range tmpl.Permissions {
			perms[i] = string(p)
		}
		f.roles[tmpl.Name] = f.store.PutRole(store.Role{
			ID:          "role-" + tmpl.Name,
			Name:        tmpl.Name,
			IsSystem:    true,
			Permissions: perms,
		})
	}
	f.roles["auditor"] = f.store.PutRole(store.Role{
		ID:          "role-auditor",
		TenantID:    tenantA,
		Name:        "auditor",
		Permissions: []string{"audit:read", "reports:read"},
	})
	f.roles["empty"] = f.store.PutRole(store.Role{
		ID:       "role-empty",
		TenantID: tenantA,
		Name:     "empty",
	})

	for user, role := range map[string]string{
		"owner-1":   "owner",
		"manager-1": "manager",
		"auditor-1": "auditor",
		"viewer-1":  "viewer",
		"empty-1":   "empty",
	} {
		f.store.PutMembership(store.Membership{TenantID: tenantA, UserID: user, RoleID: f.roles[role].ID, Status: store.MembershipActive})
	}
	f.store.PutMembership(store.Membership{TenantID: tenantB, UserID: "viewer-1", RoleID: f.roles["viewer"].ID, Status: store.MembershipActive})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	var reads store.MembershipStore = f.store
	if wrap != nil {
		reads = wrap(f.store)
	}

	engine, err := NewEngine(EngineConfig{
		Catalog:      DefaultCatalog(),
		Store:        reads,
		Audit:        f.recorder,
		Metrics:      f.metrics,
		Logger:       logger,
		StoreTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	f.engine = engine
	f.admin = NewAdmin(engine, f.store)
	return f
}

// hangingStore blocks ActiveRoleOf until the context expires
type hangingStore struct {
	*store.MemoryStore
}

func (s hangingStore) ActiveRoleOf(ctx context.Context, userID, tenantID string) (*store.Role, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %s: %w", store.ErrUnavailable, store.OpActiveRoleOf, ctx.Err())
}

// panickingStore panics on PermissionsGrantedTo
type panickingStore struct {
	*store.MemoryStore
}

func (s panickingStore) PermissionsGrantedTo(context.Context, string) ([]string, error) {
	panic("driver bug")
}
