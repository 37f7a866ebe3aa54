package audit

import (
	"errors"
	"time"
)

// Kind is the category of an audit event
type Kind string

const (
	KindPermissionCheck  Kind = "permission_check"
	KindTenantResolution Kind = "tenant_resolution"
	KindOwnerBypass      Kind = "owner_bypass"
	KindAdminAction      Kind = "admin_action"
)

// Result is the outcome recorded for an event
type Result string

const (
	ResultAllowed Result = "allowed"
	ResultDenied  Result = "denied"
)

// ResultOf maps an allow/deny decision to a Result
func ResultOf(allowed bool) Result {
	if allowed {
		return ResultAllowed
	}
	return ResultDenied
}

// Severity ranks events for alerting
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Event is one append-only audit row
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`

	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	// Permission holds the checked permission, or the action name for admin actions
	Permission string `json:"permission,omitempty"`
	Result     Result `json:"result"`
	Reason     string `json:"reason,omitempty"`

	// Source is the tenant resolution strategy, when relevant
	Source string `json:"source,omitempty"`

	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields every sink requires
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("event is nil")
	}
	if e.Kind == "" {
		return errors.New("kind is required")
	}
	if e.Result != ResultAllowed && e.Result != ResultDenied {
		return errors.New("result must be allowed or denied")
	}
	return nil
}

// normalize fills defaults before an event is written
func (e *Event) normalize() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
}

// SearchFilter selects events of a single tenant
type SearchFilter struct {
	TenantID  string
	UserID    string
	Kinds     []Kind
	Result    Result
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// DefaultSearchLimit applies when a filter sets no limit
const DefaultSearchLimit = 100

// MaxSearchLimit caps a single page
const MaxSearchLimit = 1000

func (f *SearchFilter) effectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return f.Limit
	}
}
