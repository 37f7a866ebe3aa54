package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/store"
)

// Permissions gating each administrative operation
const (
	PermAssignRole       Permission = "users:admin"
	PermManageMembership Permission = "users:admin"
	PermCreateRole       Permission = "roles:write"
	PermDeleteRole       Permission = "roles:delete"
)

// Admin action names recorded in audit events
const (
	ActionAssignRole        = "assign_role"
	ActionSuspendMembership = "suspend_membership"
	ActionRemoveMembership  = "remove_membership"
	ActionCreateRole        = "create_role"
	ActionDeleteRole        = "delete_role"
)

// Actor is the caller of an administrative operation
type Actor struct {
	UserID        string
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// checkOptions gates admin writes on the store, never on token claims
func (a Actor) checkOptions() CheckOptions {
	return CheckOptions{
		Strict:        true,
		IPAddress:     a.IPAddress,
		UserAgent:     a.UserAgent,
		CorrelationID: a.CorrelationID,
	}
}

// Admin performs role and membership writes. Each write is gated by its own
// permission check and recorded as an admin_action audit event.
type Admin struct {
	engine *Engine
	store  store.RoleAdminStore
}

// NewAdmin creates an Admin over engine and the write store
func NewAdmin(engine *Engine, adminStore store.RoleAdminStore) *Admin {
	return &Admin{engine: engine, store: adminStore}
}

func (a *Admin) authorize(ctx context.Context, actor Actor, tenantID string, permission Permission) error {
	if actor.UserID == "" {
		return authz.ErrAuthRequired("")
	}
	if tenantID == "" {
		return authz.ErrTenantRequired()
	}
	if !a.engine.Check(ctx, actor.UserID, tenantID, permission, actor.checkOptions()) {
		return authz.ErrPermissionDenied(string(permission))
	}
	return nil
}

// withinActorGrants rejects grants whose expansion reaches beyond what the
// actor holds in tenantID. The first missing permission is reported.
func (a *Admin) withinActorGrants(ctx context.Context, actor Actor, tenantID string, grants []string) error {
	held, err := a.engine.GetUserPermissions(ctx, actor.UserID, tenantID)
	if err != nil {
		return authz.ErrStoreUnavailable().Wrap(err)
	}

	heldSet := make(PermissionSet, len(held))
	for _, p := range held {
		heldSet[Permission(p)] = struct{}{}
	}
	for _, p := range a.engine.catalog.ExpandAll(Permissions(grants)).Sorted() {
		if !heldSet.Has(p) {
			return authz.ErrPermissionDenied(string(p))
		}
	}
	return nil
}

// AssignRole makes roleID the active role of userID in tenantID. The role must
// be a system role or belong to tenantID, and the actor must already hold
// every permission it grants.
func (a *Admin) AssignRole(ctx context.Context, actor Actor, tenantID, userID, roleID string) error {
	if err := a.authorize(ctx, actor, tenantID, PermAssignRole); err != nil {
		return err
	}

	err := a.assignRole(ctx, actor, tenantID, userID, roleID)
	a.recordAction(ctx, actor, tenantID, ActionAssignRole, err, map[string]interface{}{
		"target_user_id": userID,
		"role_id":        roleID,
	})
	return err
}

func (a *Admin) assignRole(ctx context.Context, actor Actor, tenantID, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return authz.ErrInvalidRequest("user_id and role_id are required")
	}

	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return mapStoreError(err, "role")
	}
	if !role.VisibleTo(tenantID) {
		return authz.ErrNotFound("role")
	}
	if err := a.withinActorGrants(ctx, actor, tenantID, role.Permissions); err != nil {
		return err
	}

	if err := a.store.UpsertMembership(ctx, tenantID, userID, roleID); err != nil {
		return mapStoreError(err, "membership")
	}
	return nil
}

// SuspendMembership suspends userID in tenantID. The next check denies.
func (a *Admin) SuspendMembership(ctx context.Context, actor Actor, tenantID, userID string) error {
	return a.setStatus(ctx, actor, tenantID, userID, store.MembershipSuspended, ActionSuspendMembership)
}

// RemoveMembership removes userID from tenantID
func (a *Admin) RemoveMembership(ctx context.Context, actor Actor, tenantID, userID string) error {
	return a.setStatus(ctx, actor, tenantID, userID, store.MembershipRemoved, ActionRemoveMembership)
}

func (a *Admin) setStatus(ctx context.Context, actor Actor, tenantID, userID string, status store.MembershipStatus, action string) error {
	if err := a.authorize(ctx, actor, tenantID, PermManageMembership); err != nil {
		return err
	}

	var err error
	if userID = strings.TrimSpace(userID); userID == "" {
		err = authz.ErrInvalidRequest("user_id is required")
	} else if serr := a.store.SetMembershipStatus(ctx, tenantID, userID, status); serr != nil {
		err = mapStoreError(serr, "membership")
	}

	a.recordAction(ctx, actor, tenantID, action, err, map[string]interface{}{
		"target_user_id": userID,
		"status":         string(status),
	})
	return err
}

// CreateRole creates a tenant-scoped role. Every permission must be in the
// catalog and held by the actor; system permissions are never granted to
// tenant roles. Duplicates are dropped.
func (a *Admin) CreateRole(ctx context.Context, actor Actor, tenantID, name, description string, permissions []string) (*store.Role, error) {
	if err := a.authorize(ctx, actor, tenantID, PermCreateRole); err != nil {
		return nil, err
	}

	role, err := a.createRole(ctx, actor, tenantID, name, description, permissions)
	meta := map[string]interface{}{"name": strings.TrimSpace(name)}
	if role != nil {
		meta["role_id"] = role.ID
		meta["permissions"] = role.Permissions
	}
	a.recordAction(ctx, actor, tenantID, ActionCreateRole, err, meta)
	return role, err
}

func (a *Admin) createRole(ctx context.Context, actor Actor, tenantID, name, description string, permissions []string) (*store.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, authz.ErrInvalidRequest("role name is required")
	}

	seen := make(map[Permission]bool, len(permissions))
	granted := make([]string, 0, len(permissions))
	for _, p := range Permissions(permissions) {
		if !a.engine.catalog.IsValid(p) {
			return nil, authz.ErrInvalidPermission(string(p))
		}
		if p.Resource() == ResourceSystem {
			return nil, authz.ErrInvalidRequest("system permissions cannot be granted to tenant roles")
		}
		if !seen[p] {
			seen[p] = true
			granted = append(granted, string(p))
		}
	}
	if err := a.withinActorGrants(ctx, actor, tenantID, granted); err != nil {
		return nil, err
	}

	role := &store.Role{
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: granted,
	}
	if err := a.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, authz.ErrConflict("a role with this name already exists").Wrap(err)
		}
		return nil, mapStoreError(err, "role")
	}
	return role, nil
}

// DeleteRole deletes a tenant role. System roles are protected and roles of
// other tenants are reported as not found.
func (a *Admin) DeleteRole(ctx context.Context, actor Actor, tenantID, roleID string) error {
	if err := a.authorize(ctx, actor, tenantID, PermDeleteRole); err != nil {
		return err
	}

	err := a.deleteRole(ctx, tenantID, strings.TrimSpace(roleID))
	a.recordAction(ctx, actor, tenantID, ActionDeleteRole, err, map[string]interface{}{
		"role_id": roleID,
	})
	return err
}

func (a *Admin) deleteRole(ctx context.Context, tenantID, roleID string) error {
	if roleID == "" {
		return authz.ErrInvalidRequest("role id is required")
	}

	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return mapStoreError(err, "role")
	}
	if role.IsSystem {
		return authz.ErrRoleProtected(roleID)
	}
	if role.TenantID != tenantID {
		return authz.ErrNotFound("role")
	}

	if err := a.store.DeleteRole(ctx, tenantID, roleID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return authz.ErrConflict("role is still assigned to members").Wrap(err)
		}
		return mapStoreError(err, "role")
	}
	return nil
}

// recordAction writes the admin_action event for an operation that passed its gate
func (a *Admin) recordAction(ctx context.Context, actor Actor, tenantID, action string, err error, meta map[string]interface{}) {
	event := &audit.Event{
		Kind:          audit.KindAdminAction,
		TenantID:      tenantID,
		UserID:        actor.UserID,
		Permission:    action,
		Result:        audit.ResultOf(err == nil),
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
		CorrelationID: actor.CorrelationID,
		Metadata:      meta,
	}
	if err != nil {
		event.Reason = authz.CodeOf(err)
	}
	a.engine.writeAudit(ctx, event)

	entry := a.engine.logger.WithFields(logrus.Fields{
		"action":         action,
		"tenant_id":      tenantID,
		"actor_id":       actor.UserID,
		"correlation_id": actor.CorrelationID,
	})
	if err != nil && !authz.IsExpected(err) {
		entry.WithError(err).Error("admin action failed")
		return
	}
	entry.WithField("success", err == nil).Info("admin action")
}

// mapStoreError converts store sentinels into coded errors
func mapStoreError(err error, what string) error {
	switch {
	case store.IsNotFound(err):
		return authz.ErrNotFound(what)
	case errors.Is(err, store.ErrConflict):
		return authz.ErrConflict(what + " conflicts with existing state").Wrap(err)
	case store.IsUnavailable(err):
		return authz.ErrStoreUnavailable().Wrap(err)
	default:
		return authz.ErrInternal().Wrap(err)
	}
}
