//go:build integration

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns an open pool.
// The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tenantguard_test"),
		postgres.WithUsername("tenantguard"),
		postgres.WithPassword("tenantguard_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	return db
}

func TestPostgresStore_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db, false))

	caps, err := ProbeCapabilities(ctx, db, time.Second)
	require.NoError(t, err)
	assert.False(t, caps.Subdomains)
	assert.False(t, caps.APIKeys)

	// Applying twice is a no-op, then the optional relations appear
	require.NoError(t, Migrate(ctx, db, true))
	caps, err = ProbeCapabilities(ctx, db, time.Second)
	require.NoError(t, err)
	assert.True(t, caps.Subdomains)
	assert.True(t, caps.APIKeys)

	tenantID := "2b1d8f0e-4b7a-4f0e-9a55-1f0e7f8c9a01"
	_, err = db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, status) VALUES ($1, 'Acme', 'acme', 'active')`, tenantID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO tenant_subdomains (subdomain, tenant_id) VALUES ('acme', $1)`, tenantID)
	require.NoError(t, err)

	s := NewPostgresStore(db, 2*time.Second)

	role := &Role{TenantID: tenantID, Name: "manager", Permissions: []string{"inventory:write"}}
	require.NoError(t, s.CreateRole(ctx, role))
	assert.ErrorIs(t, s.CreateRole(ctx, &Role{TenantID: tenantID, Name: "manager"}), ErrConflict)

	require.NoError(t, s.UpsertMembership(ctx, tenantID, "alice", role.ID))

	got, err := s.ActiveRoleOf(ctx, "alice", tenantID)
	require.NoError(t, err)
	assert.Equal(t, role.ID, got.ID)

	perms, err := s.PermissionsGrantedTo(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory:write"}, perms)

	id, err := s.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenantID, id)

	tenant, err := s.TenantStatus(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, tenant.IsActive())

	require.NoError(t, s.SetMembershipStatus(ctx, tenantID, "alice", MembershipSuspended))
	_, err = s.ActiveRoleOf(ctx, "alice", tenantID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteRole(ctx, tenantID, role.ID), ErrConflict)
	require.NoError(t, s.SetMembershipStatus(ctx, tenantID, "alice", MembershipRemoved))
	require.NoError(t, s.DeleteRole(ctx, tenantID, role.ID))
}
