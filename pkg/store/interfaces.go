package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps every infrastructure failure: unreachable store,
	// missing relation, timeout or cancelled context.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict is returned when a write would violate an invariant.
	ErrConflict = errors.New("conflict")
)

// Operation names, used for failure injection, metrics labels and logs.
const (
	OpActiveRoleOf         = "active_role_of"
	OpPermissionsGrantedTo = "permissions_granted_to"
	OpHasActiveMembership  = "has_active_membership"
	OpTenantBySubdomain    = "tenant_by_subdomain"
	OpTenantByAPIKeyHash   = "tenant_by_api_key_hash"
	OpTenantStatus         = "tenant_status"
	OpUpsertMembership     = "upsert_membership"
	OpSetMembershipStatus  = "set_membership_status"
	OpCreateRole           = "create_role"
	OpGetRole              = "get_role"
	OpDeleteRole           = "delete_role"
)

// MembershipStore is the read contract the authorization core depends on.
// Lookups of a single record return ErrNotFound when it does not exist; any
// infrastructure failure wraps ErrUnavailable.
type MembershipStore interface {
	// ActiveRoleOf returns the role of an active membership of userID in tenantID
	ActiveRoleOf(ctx context.Context, userID, tenantID string) (*Role, error)

	// PermissionsGrantedTo returns the permissions granted to a role (possibly empty)
	PermissionsGrantedTo(ctx context.Context, roleID string) ([]string, error)

	// HasActiveMembership reports whether userID holds an active membership in tenantID
	HasActiveMembership(ctx context.Context, userID, tenantID string) (bool, error)

	// TenantBySubdomain maps a subdomain label to a tenant id
	TenantBySubdomain(ctx context.Context, subdomain string) (string, error)

	// TenantByAPIKeyHash maps an active, unexpired API key hash to a tenant id
	TenantByAPIKeyHash(ctx context.Context, hash string) (string, error)

	// TenantStatus loads a tenant's name, status and settings
	TenantStatus(ctx context.Context, tenantID string) (*Tenant, error)
}

// RoleAdminStore is the administrative write path. Callers gate every call with
// their own permission check.
type RoleAdminStore interface {
	// UpsertMembership makes roleID the active role of userID in tenantID
	UpsertMembership(ctx context.Context, tenantID, userID, roleID string) error

	// SetMembershipStatus suspends, removes or reactivates a membership
	SetMembershipStatus(ctx context.Context, tenantID, userID string, status MembershipStatus) error

	// CreateRole persists a role and its permissions, assigning an id if empty
	CreateRole(ctx context.Context, role *Role) error

	// GetRole loads a role with its permissions
	GetRole(ctx context.Context, roleID string) (*Role, error)

	// DeleteRole deletes a tenant-scoped, non-system role
	DeleteRole(ctx context.Context, tenantID, roleID string) error
}

// Store is implemented by backends that serve both contracts.
type Store interface {
	MembershipStore
	RoleAdminStore
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// IsUnavailable reports whether err is an infrastructure failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotFound reports whether err signals a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
