package tenants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope_Predicate(t *testing.T) {
	s := Scope{TenantID: "t-1"}

	clause, arg := s.Predicate("tenant_id", 3)
	assert.Equal(t, "tenant_id = $3", clause)
	assert.Equal(t, "t-1", arg)
	assert.False(t, s.IsZero())
	assert.True(t, Scope{}.IsZero())
}

func TestScope_Append(t *testing.T) {
	s := Scope{TenantID: "t-1"}

	clause, args := s.Append("r.tenant_id", []interface{}{"chef"})
	assert.Equal(t, "r.tenant_id = $2", clause)
	assert.Equal(t, []interface{}{"chef", "t-1"}, args)
}
