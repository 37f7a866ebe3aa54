// Package tenants binds a request to exactly one tenant.
//
// Resolver.Resolve tries the strategies below in order and stops at the first
// that yields a tenant id:
//
//	owner_bypass  owner-device token, only when enabled
//	claim         tenant_id claim of the verified token
//	api_key       sha256 of the presented key, looked up in the store
//	header        explicit override, allowed only for active members
//	subdomain     single label left of the base domain
//	default       configured fallback tenant
//
// API-key and subdomain lookups fail open: a miss or a store failure moves on
// to the next strategy. An override header never falls through; a caller who
// is not a member is refused with TENANT_ACCESS_DENIED.
//
// The chosen tenant must exist and be active. Failures are returned as
// *authz.Error values and each one writes a tenant_resolution audit event.
//
// Scope carries the bound tenant into data access code as an explicit query
// predicate.
package tenants
