// Package store provides the membership, role and tenant records the
// authorization core reads, and the backends that serve them.
//
// # Contract
//
// MembershipStore is the read side. Every single-record lookup distinguishes
// a missing record (ErrNotFound) from an infrastructure failure
// (ErrUnavailable). Callers decide what each means: the permission engine
// denies on both, while the tenant resolver may fall through to a default
// tenant when a subdomain or API-key lookup is unavailable.
//
//	role, err := s.ActiveRoleOf(ctx, userID, tenantID)
//	switch {
//	case store.IsNotFound(err):
//		// no active membership
//	case store.IsUnavailable(err):
//		// timeout, missing relation, unreachable database
//	}
//
// RoleAdminStore is the write side used by administrative operations.
//
// # Backends
//
//   - PostgresStore: database/sql with lib/pq. Every query carries its own
//     tenant predicate and a per-call timeout.
//   - MemoryStore: in-process maps with per-operation failure injection.
//   - CachedLookups: wraps any MembershipStore and caches only the subdomain
//     and API-key to tenant mappings, in an LRU and optionally in Redis.
//
// # Schema
//
// Migrate creates the core relations. The subdomain and API-key relations are
// optional; ProbeCapabilities reports which of them exist so the resolver can
// disable the matching strategies at startup.
package store
