package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory database with the store schema and two tenants.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			settings TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE roles (
			id TEXT PRIMARY KEY,
			tenant_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			is_system BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE role_permissions (
			role_id TEXT NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (role_id, permission)
		);

		CREATE TABLE memberships (
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			updated_at TIMESTAMP,
			PRIMARY KEY (tenant_id, user_id)
		);

		CREATE TABLE tenant_subdomains (
			subdomain TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL
		);

		INSERT INTO tenants (id, name, slug, status) VALUES ('t1', 'Acme', 'acme', 'active');
		INSERT INTO tenants (id, name, slug, status) VALUES ('t2', 'Globex', 'globex', 'suspended');
		INSERT INTO tenant_subdomains (subdomain, tenant_id) VALUES ('acme', 't1');
	`)
	require.NoError(t, err)

	return db
}

func TestSQLite_MembershipLifecycle(t *testing.T) {
	db := setupTestDB(t)
	s := NewPostgresStore(db, time.Second)
	ctx := context.Background()

	manager := &Role{TenantID: "t1", Name: "manager", Permissions: []string{"inventory:write", "inventory:read"}}
	require.NoError(t, s.CreateRole(ctx, manager))

	_, err := s.ActiveRoleOf(ctx, "alice", "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertMembership(ctx, "t1", "alice", manager.ID))

	role, err := s.ActiveRoleOf(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, manager.ID, role.ID)
	assert.Equal(t, "t1", role.TenantID)

	perms, err := s.PermissionsGrantedTo(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory:read", "inventory:write"}, perms)

	ok, err := s.HasActiveMembership(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Suspension takes effect on the next read
	require.NoError(t, s.SetMembershipStatus(ctx, "t1", "alice", MembershipSuspended))

	_, err = s.ActiveRoleOf(ctx, "alice", "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = s.HasActiveMembership(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-assigning reactivates
	require.NoError(t, s.UpsertMembership(ctx, "t1", "alice", manager.ID))
	ok, err = s.HasActiveMembership(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_MembershipIsTenantScoped(t *testing.T) {
	db := setupTestDB(t)
	s := NewPostgresStore(db, time.Second)
	ctx := context.Background()

	other := &Role{TenantID: "t2", Name: "staff", Permissions: []string{"inventory:read"}}
	require.NoError(t, s.CreateRole(ctx, other))

	// A membership in t1 that points at a t2 role never yields a role
	require.NoError(t, s.UpsertMembership(ctx, "t1", "mallory", other.ID))

	_, err := s.ActiveRoleOf(ctx, "mallory", "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.HasActiveMembership(ctx, "mallory", "t2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_SystemRoleVisibleEverywhere(t *testing.T) {
	db := setupTestDB(t)
	s := NewPostgresStore(db, time.Second)
	ctx := context.Background()

	viewer := &Role{Name: "viewer", IsSystem: true, Permissions: []string{"inventory:read"}}
	require.NoError(t, s.CreateRole(ctx, viewer))
	require.NoError(t, s.UpsertMembership(ctx, "t1", "bob", viewer.ID))

	role, err := s.ActiveRoleOf(ctx, "bob", "t1")
	require.NoError(t, err)
	assert.True(t, role.IsSystem)
	assert.Equal(t, "", role.TenantID)

	err = s.DeleteRole(ctx, "t1", viewer.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.SetMembershipStatus(ctx, "t1", "bob", MembershipRemoved))
	err = s.DeleteRole(ctx, "t1", viewer.ID)
	assert.ErrorIs(t, err, ErrNotFound, "system roles are never deleted")
}

func TestSQLite_GetAndDeleteRole(t *testing.T) {
	db := setupTestDB(t)
	s := NewPostgresStore(db, time.Second)
	ctx := context.Background()

	role := &Role{TenantID: "t1", Name: "auditor", Description: "read-only", Permissions: []string{"users:read", "inventory:read"}}
	require.NoError(t, s.CreateRole(ctx, role))

	loaded, err := s.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "auditor", loaded.Name)
	assert.Equal(t, "read-only", loaded.Description)
	assert.Equal(t, []string{"inventory:read", "users:read"}, loaded.Permissions)

	assert.ErrorIs(t, s.DeleteRole(ctx, "t2", role.ID), ErrNotFound)
	require.NoError(t, s.DeleteRole(ctx, "t1", role.ID))

	_, err = s.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	perms, err := s.PermissionsGrantedTo(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSQLite_TenantLookups(t *testing.T) {
	db := setupTestDB(t)
	s := NewPostgresStore(db, time.Second)
	ctx := context.Background()

	id, err := s.TenantBySubdomain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	_, err = s.TenantBySubdomain(ctx, "initech")
	assert.ErrorIs(t, err, ErrNotFound)

	tenant, err := s.TenantStatus(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, TenantStatusSuspended, tenant.Status)

	_, err = s.TenantStatus(ctx, "t404")
	assert.ErrorIs(t, err, ErrNotFound)

	// The api key relation was never created in this deployment
	_, err = s.TenantByAPIKeyHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrUnavailable)
}
