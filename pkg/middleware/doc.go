// Package middleware guards HTTP routes of tenant-scoped services.
//
// # Request pipeline
//
//	router.Use(middleware.Correlation(logger))
//	router.Use(middleware.Instrument(metrics))
//	router.Handle("/v1/recipes", guard.Protect("recipes:write")(handler))
//
// Correlation starts the immutable request context and the correlation id.
// Guard then runs, in order:
//
//  1. Authenticate: bearer token verified by an auth.Verifier, 401 AUTH_REQUIRED otherwise
//  2. ResolveTenant: tenants.Resolver, 400/403/404/503 as the resolver reports
//  3. RequirePermission: rbac engine check, 403 PERMISSION_DENIED with the required permission
//
// RequirePermission answers 401 or 400 itself when an earlier stage did not
// bind a principal or a tenant, so it is safe to mount on its own.
//
// Token permission claims can satisfy RequirePermission in the token's own
// tenant. Routes that must see suspensions immediately use ProtectStrict,
// which always asks the membership store:
//
//	router.Handle("/v1/audit/events", guard.ProtectStrict("audit:read")(handler))
//
// # Failed attempt throttling
//
// When a limiter is configured, clients presenting invalid tokens are counted
// per IP. After RateLimitConfig.MaxFailures in one window they receive 429
// RATE_LIMITED with Retry-After until the window passes.
//
//	RateLimiter             in process
//	DistributedRateLimiter  shared through Redis
//
// Limiter errors never block a request.
//
// # Data access
//
// ScopeQuery returns the tenants.Scope handlers add to every tenant-owned query.
package middleware
