package tenants

import (
	"fmt"
)

// Scope restricts data queries to one tenant. It replaces session-level row
// security variables: every tenant-owned query adds the predicate explicitly.
type Scope struct {
	TenantID string
}

// IsZero reports whether the scope carries no tenant
func (s Scope) IsZero() bool {
	return s.TenantID == ""
}

// Predicate returns a "column = $n" clause and the argument bound to it.
//
//	clause, arg := scope.Predicate("tenant_id", 1)
//	rows, err := db.QueryContext(ctx, "SELECT id FROM recipes WHERE "+clause, arg)
func (s Scope) Predicate(column string, argIndex int) (string, interface{}) {
	return fmt.Sprintf("%s = $%d", column, argIndex), s.TenantID
}

// Append adds the predicate to an existing argument list, numbering it after
// the arguments already present.
func (s Scope) Append(column string, args []interface{}) (string, []interface{}) {
	clause, arg := s.Predicate(column, len(args)+1)
	return clause, append(args, arg)
}
