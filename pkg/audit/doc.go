// Package audit records authorization decisions as append-only events.
//
// # Event kinds
//
//	permission_check   one row per permission check, allowed or denied
//	tenant_resolution  a request was refused during tenant resolution
//	owner_bypass       the owner-device bypass selected a tenant (warning)
//	admin_action       role assignment, suspension, removal, role create/delete
//
// # Sinks
//
// Logger is implemented by DBLogger (PostgreSQL table authz_audit_log),
// LogrusLogger (structured log lines), Recorder (in memory) and NoOpLogger.
// MultiLogger fans out to several sinks and joins their errors.
//
//	sink := audit.NewMultiLogger(dbLogger, audit.NewLogrusLogger(log))
//	err := sink.Log(ctx, &audit.Event{
//		Kind:       audit.KindPermissionCheck,
//		TenantID:   tenantID,
//		UserID:     userID,
//		Permission: "projects:read",
//		Result:     audit.ResultDenied,
//		Reason:     "no_role",
//	})
//
// Writing is best effort from the caller's point of view: the permission
// engine logs a failed write and counts it, but never changes a decision
// because of it.
//
// # Reading
//
// Searcher returns events of exactly one tenant. A filter without a tenant
// fails with ErrTenantRequired. Handlers.ListEvents takes the tenant from the
// request context and is mounted behind the route guard.
package audit
