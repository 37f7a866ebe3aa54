package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and the "memory" store mode,
// and supports injecting failures per operation.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]Tenant
	roles       map[string]Role
	memberships map[membershipKey]Membership
	subdomains  map[string]string
	apiKeys     map[string]APIKeyBinding
	failures    map[string]error
	calls       map[string]int
	now         func() time.Time
}

type membershipKey struct {
	tenantID string
	userID   string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]Tenant),
		roles:       make(map[string]Role),
		memberships: make(map[membershipKey]Membership),
		subdomains:  make(map[string]string),
		apiKeys:     make(map[string]APIKeyBinding),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// PutTenant inserts or replaces a tenant
func (s *MemoryStore) PutTenant(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// SetTenantStatus changes a tenant's lifecycle state
func (s *MemoryStore) SetTenantStatus(tenantID string, status TenantStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		t.Status = status
		s.tenants[tenantID] = t
	}
}

// PutRole inserts or replaces a role, assigning an id if empty
func (s *MemoryStore) PutRole(r Role) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Permissions = append([]string(nil), r.Permissions...)
	s.roles[r.ID] = r
	return r
}

// PutMembership inserts or replaces a membership
func (s *MemoryStore) PutMembership(m Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	s.memberships[membershipKey{m.TenantID, m.UserID}] = m
}

// PutSubdomain binds a subdomain label to a tenant
func (s *MemoryStore) PutSubdomain(subdomain, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subdomains[subdomain] = tenantID
}

// PutAPIKey stores an API key binding
func (s *MemoryStore) PutAPIKey(b APIKeyBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[b.KeyHash] = b
}

// Membership returns the stored membership, if any
func (s *MemoryStore) Membership(tenantID, userID string) (Membership, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{tenantID, userID}]
	return m, ok
}

// FailWith makes every call to op fail with ErrUnavailable wrapping err until
// cleared with FailWith(op, nil).
func (s *MemoryStore) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked
func (s *MemoryStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// enter records the call and returns the injected or context failure, if any.
// Callers must hold the lock.
func (s *MemoryStore) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	if err, ok := s.failures[op]; ok {
		return unavailable(op, err)
	}
	return nil
}

// ActiveRoleOf returns the role of an active membership of userID in tenantID
func (s *MemoryStore) ActiveRoleOf(ctx context.Context, userID, tenantID string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpActiveRoleOf); err != nil {
		return nil, err
	}

	m, ok := s.memberships[membershipKey{tenantID, userID}]
	if !ok || m.Status != MembershipActive {
		return nil, ErrNotFound
	}
	r, ok := s.roles[m.RoleID]
	if !ok || !r.VisibleTo(tenantID) {
		return nil, ErrNotFound
	}
	r.Permissions = nil
	return &r, nil
}

// PermissionsGrantedTo returns the permissions granted to a role
func (s *MemoryStore) PermissionsGrantedTo(ctx context.Context, roleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpPermissionsGrantedTo); err != nil {
		return nil, err
	}

	r, ok := s.roles[roleID]
	if !ok {
		return []string{}, nil
	}
	perms := append([]string{}, r.Permissions...)
	sort.Strings(perms)
	return perms, nil
}

// HasActiveMembership reports whether userID holds an active membership in tenantID
func (s *MemoryStore) HasActiveMembership(ctx context.Context, userID, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpHasActiveMembership); err != nil {
		return false, err
	}

	m, ok := s.memberships[membershipKey{tenantID, userID}]
	return ok && m.Status == MembershipActive, nil
}

// TenantBySubdomain maps a subdomain label to a tenant id
func (s *MemoryStore) TenantBySubdomain(ctx context.Context, subdomain string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpTenantBySubdomain); err != nil {
		return "", err
	}

	id, ok := s.subdomains[subdomain]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// TenantByAPIKeyHash maps an active, unexpired API key hash to a tenant id
func (s *MemoryStore) TenantByAPIKeyHash(ctx context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpTenantByAPIKeyHash); err != nil {
		return "", err
	}

	b, ok := s.apiKeys[hash]
	if !ok || !b.Usable(s.now()) {
		return "", ErrNotFound
	}
	return b.TenantID, nil
}

// TenantStatus loads a tenant's name, status and settings
func (s *MemoryStore) TenantStatus(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpTenantStatus); err != nil {
		return nil, err
	}

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// UpsertMembership makes roleID the active role of userID in tenantID
func (s *MemoryStore) UpsertMembership(ctx context.Context, tenantID, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpsertMembership); err != nil {
		return err
	}

	s.memberships[membershipKey{tenantID, userID}] = Membership{
		TenantID:  tenantID,
		UserID:    userID,
		RoleID:    roleID,
		Status:    MembershipActive,
		UpdatedAt: s.now(),
	}
	return nil
}

// SetMembershipStatus suspends, removes or reactivates a membership
func (s *MemoryStore) SetMembershipStatus(ctx context.Context, tenantID, userID string, status MembershipStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid membership status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpSetMembershipStatus); err != nil {
		return err
	}

	key := membershipKey{tenantID, userID}
	m, ok := s.memberships[key]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = s.now()
	s.memberships[key] = m
	return nil
}

// CreateRole persists a role, assigning an id if empty
func (s *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateRole); err != nil {
		return err
	}

	for _, existing := range s.roles {
		if existing.TenantID == role.TenantID && existing.Name == role.Name {
			return fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
		}
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.CreatedAt = s.now()
	stored := *role
	stored.Permissions = append([]string(nil), role.Permissions...)
	s.roles[role.ID] = stored
	return nil
}

// GetRole loads a role with its permissions
func (s *MemoryStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpGetRole); err != nil {
		return nil, err
	}

	r, ok := s.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	r.Permissions = append([]string(nil), r.Permissions...)
	return &r, nil
}

// DeleteRole deletes a tenant-scoped, non-system role that no live membership uses
func (s *MemoryStore) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDeleteRole); err != nil {
		return err
	}

	r, ok := s.roles[roleID]
	if !ok || r.IsSystem || r.TenantID != tenantID {
		return ErrNotFound
	}
	for _, m := range s.memberships {
		if m.RoleID == roleID && m.Status != MembershipRemoved {
			return fmt.Errorf("%w: role %q is assigned to members", ErrConflict, roleID)
		}
	}
	delete(s.roles, roleID)
	return nil
}
