package rbac

import (
	"sort"
	"strings"
	"time"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceInventory Resource = "inventory"
	ResourceRecipes   Resource = "recipes"
	ResourceMenus     Resource = "menus"
	ResourceForecasts Resource = "forecasts"
	ResourceReports   Resource = "reports"
	ResourceSuppliers Resource = "suppliers"
	ResourceUsers     Resource = "users"
	ResourceRoles     Resource = "roles"
	ResourceTenant    Resource = "tenant"
	ResourceAudit     Resource = "audit"
	ResourceSettings  Resource = "settings"
	ResourceSystem    Resource = "system"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Permission is a "resource:action" capability string
type Permission string

// NewPermission builds a permission from its parts
func NewPermission(resource Resource, action Action) Permission {
	return Permission(string(resource) + ":" + string(action))
}

// String returns the permission as a plain string
func (p Permission) String() string {
	return string(p)
}

// Resource returns the part before the colon
func (p Permission) Resource() Resource {
	res, _, _ := strings.Cut(string(p), ":")
	return Resource(res)
}

// Action returns the part after the colon
func (p Permission) Action() Action {
	_, act, _ := strings.Cut(string(p), ":")
	return Action(act)
}

// WellFormed reports whether p has exactly one non-empty resource and action.
func (p Permission) WellFormed() bool {
	res, act, ok := strings.Cut(string(p), ":")
	return ok && res != "" && act != "" && !strings.Contains(act, ":")
}

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// Has reports set membership
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the set as a sorted slice
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the set as a sorted string slice
func (s PermissionSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}

// Permissions converts raw strings into permissions.
func Permissions(raw []string) []Permission {
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		out = append(out, Permission(strings.TrimSpace(r)))
	}
	return out
}

// Reason is the short code recorded with every decision
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonClaimGranted      Reason = "claim_granted"
	ReasonNoRole            Reason = "no_role"
	ReasonNoPermissions     Reason = "no_permissions"
	ReasonNotGranted        Reason = "not_granted"
	ReasonStoreError        Reason = "store_error"
	ReasonInvalidPermission Reason = "invalid_permission"
	ReasonMissingSubject    Reason = "missing_subject"
	ReasonInternalError     Reason = "internal_error"
)

// CheckOptions carries per-call inputs that are not part of the decision key
type CheckOptions struct {
	// ClaimPermissions are the permissions pre-computed at credential issuance.
	// They only apply when ClaimTenantID names the tenant being checked.
	ClaimPermissions []string

	// ClaimTenantID is the tenant the credential was issued for
	ClaimTenantID string

	// Strict forces the store-backed check even when the claims grant the permission.
	Strict bool

	// Request metadata copied into the audit row.
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// Decision is the full outcome of a permission check
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Permission Permission `json:"permission"`
	Reason     Reason     `json:"reason"`
	RoleID     string     `json:"role_id,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// System role names shared across tenants
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleViewer  = "viewer"
)

// RoleTemplate describes a role seeded at provisioning time
type RoleTemplate struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// SystemRoles returns the built-in role definitions
func SystemRoles() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        RoleOwner,
			Description: "Full control of the tenant",
			Permissions: []Permission{"tenant:admin", "inventory:admin", "recipes:admin", "menus:admin", "forecasts:admin", "reports:admin", "suppliers:admin"},
		},
		{
			Name:        RoleManager,
			Description: "Day-to-day operations and staff management",
			Permissions: []Permission{"inventory:admin", "recipes:admin", "menus:admin", "suppliers:write", "suppliers:read", "forecasts:read", "reports:read", "users:read"},
		},
		{
			Name:        RoleStaff,
			Description: "Records stock movements and prepares menus",
			Permissions: []Permission{"inventory:read", "inventory:write", "recipes:read", "menus:read"},
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			Permissions: []Permission{"inventory:read", "recipes:read", "menus:read", "reports:read"},
		},
	}
}
