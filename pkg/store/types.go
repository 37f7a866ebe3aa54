package store

import (
	"time"
)

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Tenant is an isolated customer account. Provisioned elsewhere, read-only here.
type Tenant struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Slug     string                 `json:"slug"`
	Status   TenantStatus           `json:"status"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// IsActive reports whether requests may be bound to the tenant
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantStatusActive
}

// MembershipStatus is the state of a user's binding to a tenant
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipRemoved   MembershipStatus = "removed"
)

// Valid reports whether s is a known status
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipActive, MembershipSuspended, MembershipRemoved:
		return true
	}
	return false
}

// Membership binds a user to one role within one tenant
type Membership struct {
	TenantID  string           `json:"tenant_id"`
	UserID    string           `json:"user_id"`
	RoleID    string           `json:"role_id"`
	Status    MembershipStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Role is a named set of permissions. TenantID is empty for system roles shared
// across tenants.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VisibleTo reports whether the role may be assigned inside tenantID
func (r *Role) VisibleTo(tenantID string) bool {
	return r.TenantID == "" || r.TenantID == tenantID
}

// APIKeyBinding maps the hash of an API key to a tenant
type APIKeyBinding struct {
	KeyHash   string     `json:"key_hash"`
	TenantID  string     `json:"tenant_id"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Usable reports whether the binding may resolve a tenant at time now
func (b APIKeyBinding) Usable(now time.Time) bool {
	if !b.Active {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// Capabilities records which optional relations exist in the backing store.
// It is resolved once at startup.
type Capabilities struct {
	Subdomains bool `json:"subdomains"`
	APIKeys    bool `json:"api_keys"`
}
