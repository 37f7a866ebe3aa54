package contextkeys

import (
	"time"

	"github.com/platinummonkey/tenantguard/pkg/auth"
)

// RequestContext is the authorization state of one request. It is immutable:
// every With method returns a modified copy and leaves the receiver intact, so
// a value handed to one stage cannot be changed by another.
type RequestContext struct {
	correlationID string
	clientIP      string
	userAgent     string
	startedAt     time.Time

	principal *auth.Principal

	tenantID     string
	tenantSource string
	ownerBypass  bool
}

// NewRequestContext starts the context for a request
func NewRequestContext(correlationID, clientIP, userAgent string) RequestContext {
	return RequestContext{
		correlationID: correlationID,
		clientIP:      clientIP,
		userAgent:     userAgent,
		startedAt:     time.Now(),
	}
}

// CorrelationID echoed on every response
func (rc RequestContext) CorrelationID() string { return rc.correlationID }

// ClientIP of the caller
func (rc RequestContext) ClientIP() string { return rc.clientIP }

// UserAgent of the caller
func (rc RequestContext) UserAgent() string { return rc.userAgent }

// StartedAt is when the request entered the guard chain
func (rc RequestContext) StartedAt() time.Time { return rc.startedAt }

// Principal returns a copy of the authenticated caller, or nil
func (rc RequestContext) Principal() *auth.Principal { return rc.principal.Clone() }

// Authenticated reports whether a principal is attached
func (rc RequestContext) Authenticated() bool { return rc.principal != nil }

// TenantID is the resolved tenant, empty until resolution succeeds
func (rc RequestContext) TenantID() string { return rc.tenantID }

// TenantSource names the strategy that produced TenantID
func (rc RequestContext) TenantSource() string { return rc.tenantSource }

// OwnerBypass reports whether tenant resolution used the owner-device bypass
func (rc RequestContext) OwnerBypass() bool { return rc.ownerBypass }

// WithPrincipal returns a copy with p attached
func (rc RequestContext) WithPrincipal(p *auth.Principal) RequestContext {
	rc.principal = p.Clone()
	return rc
}

// WithTenant returns a copy bound to tenantID
func (rc RequestContext) WithTenant(tenantID, source string, ownerBypass bool) RequestContext {
	rc.tenantID = tenantID
	rc.tenantSource = source
	rc.ownerBypass = ownerBypass
	return rc
}
