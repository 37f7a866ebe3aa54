package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DefaultQueryTimeout bounds every query when no timeout is configured
const DefaultQueryTimeout = 2 * time.Second

// PostgresStore implements Store over database/sql.
//
// Tenant isolation is expressed in the query predicates of every statement.
// No session-scoped variables are set on pooled connections.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// NewPostgresStore creates a store. A zero timeout uses DefaultQueryTimeout.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &PostgresStore{
		db:      db,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying pool for health checks
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify maps driver errors onto the store contract
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// a key that is not valid for its column cannot match a row
		if pqErr.Code.Name() == "invalid_text_representation" {
			return ErrNotFound
		}
		return unavailable(op, fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err))
	}
	return unavailable(op, err)
}

// ActiveRoleOf returns the role of an active membership of userID in tenantID
func (s *PostgresStore) ActiveRoleOf(ctx context.Context, userID, tenantID string) (*Role, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT r.id, r.tenant_id, r.name, r.description, r.is_system
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1
		  AND m.tenant_id = $2
		  AND m.status = 'active'
		  AND (r.tenant_id = $2 OR r.tenant_id IS NULL)
	`

	var role Role
	var roleTenant, description sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID, tenantID).Scan(
		&role.ID,
		&roleTenant,
		&role.Name,
		&description,
		&role.IsSystem,
	)
	if err != nil {
		return nil, classify(OpActiveRoleOf, err)
	}
	role.TenantID = roleTenant.String
	role.Description = description.String

	return &role, nil
}

// PermissionsGrantedTo returns the permissions granted to a role
func (s *PostgresStore) PermissionsGrantedTo(ctx context.Context, roleID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, classify(OpPermissionsGrantedTo, err)
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, classify(OpPermissionsGrantedTo, err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpPermissionsGrantedTo, err)
	}

	return perms, nil
}

// HasActiveMembership reports whether userID holds an active membership in tenantID
func (s *PostgresStore) HasActiveMembership(ctx context.Context, userID, tenantID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM memberships
			WHERE user_id = $1 AND tenant_id = $2 AND status = 'active'
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, tenantID).Scan(&exists); err != nil {
		err = classify(OpHasActiveMembership, err)
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// TenantBySubdomain maps a subdomain label to a tenant id
func (s *PostgresStore) TenantBySubdomain(ctx context.Context, subdomain string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT tenant_id FROM tenant_subdomains WHERE subdomain = $1`

	var tenantID string
	if err := s.db.QueryRowContext(ctx, query, subdomain).Scan(&tenantID); err != nil {
		return "", classify(OpTenantBySubdomain, err)
	}
	return tenantID, nil
}

// TenantByAPIKeyHash maps an active, unexpired API key hash to a tenant id
func (s *PostgresStore) TenantByAPIKeyHash(ctx context.Context, hash string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT tenant_id FROM tenant_api_keys
		WHERE key_hash = $1
		  AND active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
	`

	var tenantID string
	if err := s.db.QueryRowContext(ctx, query, hash, s.now()).Scan(&tenantID); err != nil {
		return "", classify(OpTenantByAPIKeyHash, err)
	}
	return tenantID, nil
}

// TenantStatus loads a tenant's name, status and settings
func (s *PostgresStore) TenantStatus(ctx context.Context, tenantID string) (*Tenant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, name, slug, status, settings FROM tenants WHERE id = $1`

	var t Tenant
	var settings []byte
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.ID,
		&t.Name,
		&t.Slug,
		&t.Status,
		&settings,
	)
	if err != nil {
		return nil, classify(OpTenantStatus, err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			// Settings are opaque to the authorization core
			t.Settings = nil
		}
	}

	return &t, nil
}

// UpsertMembership makes roleID the active role of userID in tenantID
func (s *PostgresStore) UpsertMembership(ctx context.Context, tenantID, userID, roleID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO memberships (tenant_id, user_id, role_id, status, updated_at)
		VALUES ($1, $2, $3, 'active', $4)
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET role_id = EXCLUDED.role_id, status = 'active', updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, tenantID, userID, roleID, s.now()); err != nil {
		return classify(OpUpsertMembership, err)
	}
	return nil
}

// SetMembershipStatus suspends, removes or reactivates a membership
func (s *PostgresStore) SetMembershipStatus(ctx context.Context, tenantID, userID string, status MembershipStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid membership status %q", status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `UPDATE memberships SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4`

	result, err := s.db.ExecContext(ctx, query, string(status), s.now(), tenantID, userID)
	if err != nil {
		return classify(OpSetMembershipStatus, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classify(OpSetMembershipStatus, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRole persists a role and its permissions in one transaction
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.CreatedAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(OpCreateRole, err)
	}
	defer tx.Rollback()

	var tenantID interface{}
	if role.TenantID != "" {
		tenantID = role.TenantID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, is_system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, role.ID, tenantID, role.Name, role.Description, role.IsSystem, role.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
		}
		return classify(OpCreateRole, err)
	}

	for _, p := range role.Permissions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`,
			role.ID, p,
		); err != nil {
			return classify(OpCreateRole, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(OpCreateRole, err)
	}
	return nil
}

// GetRole loads a role with its permissions
func (s *PostgresStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, tenant_id, name, description, is_system, created_at FROM roles WHERE id = $1`

	var role Role
	var roleTenant, description sql.NullString
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&roleTenant,
		&role.Name,
		&description,
		&role.IsSystem,
		&role.CreatedAt,
	)
	if err != nil {
		return nil, classify(OpGetRole, err)
	}
	role.TenantID = roleTenant.String
	role.Description = description.String

	perms, err := s.PermissionsGrantedTo(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms

	return &role, nil
}

// DeleteRole deletes a tenant-scoped, non-system role that no live membership uses
func (s *PostgresStore) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(OpDeleteRole, err)
	}
	defer tx.Rollback()

	var inUse int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE role_id = $1 AND status <> 'removed'`,
		roleID,
	).Scan(&inUse)
	if err != nil {
		return classify(OpDeleteRole, err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: role %q is assigned to %d members", ErrConflict, roleID, inUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return classify(OpDeleteRole, err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM roles WHERE id = $1 AND tenant_id = $2 AND is_system = FALSE`,
		roleID, tenantID,
	)
	if err != nil {
		return classify(OpDeleteRole, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classify(OpDeleteRole, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return classify(OpDeleteRole, err)
	}
	return nil
}
