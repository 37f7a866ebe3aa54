// Package rbac decides whether a user may use a permission inside a tenant.
//
// # Permissions
//
// A permission is a "resource:action" string from a closed Catalog. The
// catalog also holds a static hierarchy of umbrella permissions, expanded to a
// fixed point:
//
//	inventory:admin  => inventory:read, inventory:write, inventory:delete
//	tenant:admin     => users:admin, roles:admin, settings:admin, audit:read
//	system:admin     => every permission in the catalog
//
// Unknown permissions are rejected when granted to a role and grant nothing
// when checked.
//
// # Engine
//
// Engine.Check resolves the user's active role in the tenant, loads the role's
// grants, expands them and tests membership:
//
//	allowed := engine.Check(ctx, userID, tenantID, "inventory:write", rbac.CheckOptions{
//		ClaimPermissions: principal.Permissions,
//		ClaimTenantID:    principal.TenantID,
//		CorrelationID:    correlationID,
//	})
//
// Token permissions may short-circuit an allow (reason claim_granted) in the
// tenant the token was issued for, unless Strict is set; the store decides
// every other case. Store failures and timeouts deny. Every check writes one
// permission_check audit event and denials increment
// tenantguard_permission_denials_total{permission}, with unknown permissions
// counted under "invalid".
//
// # Administration
//
// Admin wraps the write store. Each operation runs its own strict check first:
//
//	AssignRole, SuspendMembership, RemoveMembership  users:admin
//	CreateRole                                       roles:write
//	DeleteRole                                       roles:delete
//
// System roles cannot be deleted and roles of other tenants are invisible.
// Suspension takes effect on the next check because memberships are never cached.
package rbac
