package tenants

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/store"
)

// Source names the strategy that produced a tenant id
type Source string

const (
	SourceOwnerBypass Source = "owner_bypass"
	SourceClaim       Source = "claim"
	SourceAPIKey      Source = "api_key"
	SourceHeader      Source = "header"
	SourceSubdomain   Source = "subdomain"
	SourceDefault     Source = "default"

	// sourceNone labels failures where no strategy produced an id
	sourceNone Source = "none"
)

const (
	// DefaultStoreTimeout bounds each store call made during resolution
	DefaultStoreTimeout = 2 * time.Second

	// DefaultAuditTimeout bounds each audit write
	DefaultAuditTimeout = 2 * time.Second

	outcomeResolved = "resolved"
)

// Signals are the request attributes a tenant may be resolved from
type Signals struct {
	Principal        *auth.Principal
	APIKey           string
	OverrideTenantID string
	Host             string

	ClientIP      string
	UserAgent     string
	CorrelationID string
}

// Resolution is the tenant bound to a request
type Resolution struct {
	TenantID    string
	Source      Source
	Tenant      *store.Tenant
	OwnerBypass bool
}

// Config wires a Resolver. Store is required.
type Config struct {
	// DefaultTenantID is used when no strategy matches. Empty disables the fallback.
	DefaultTenantID string

	// BaseDomain is the domain tenant subdomains live under, e.g. "example.com"
	BaseDomain string

	// ReservedSubdomains never resolve. Nil selects DefaultReservedSubdomains.
	ReservedSubdomains []string

	// OwnerBypassEnabled lets owner-device tokens bind to their home tenant
	OwnerBypassEnabled bool

	// Capabilities gates the optional API-key and subdomain strategies
	Capabilities store.Capabilities

	Store   store.MembershipStore
	Audit   audit.Logger
	Metrics *observability.Metrics
	OTel    *observability.OTelMetrics
	Tracer  trace.Tracer
	Logger  logrus.FieldLogger

	StoreTimeout time.Duration
	AuditTimeout time.Duration
}

// Resolver determines the tenant a request acts in.
//
// Strategies run in a fixed order and the first to produce an id wins:
// owner bypass, token claim, API key, override header, subdomain, default
// tenant. The chosen tenant must exist and be active before it is bound.
type Resolver struct {
	defaultTenant string
	baseDomain    string
	reserved      map[string]struct{}
	ownerBypass   bool
	caps          store.Capabilities

	store   store.MembershipStore
	audit   audit.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	tracer  trace.Tracer
	logger  logrus.FieldLogger

	storeTimeout time.Duration
	auditTimeout time.Duration
	now          func() time.Time
}

// NewResolver creates a resolver from cfg
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("membership store is required")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOpLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = DefaultAuditTimeout
	}

	return &Resolver{
		defaultTenant: strings.TrimSpace(cfg.DefaultTenantID),
		baseDomain:    cfg.BaseDomain,
		reserved:      reservedSet(cfg.ReservedSubdomains),
		ownerBypass:   cfg.OwnerBypassEnabled,
		caps:          cfg.Capabilities,
		store:         cfg.Store,
		audit:         cfg.Audit,
		metrics:       cfg.Metrics,
		otel:          cfg.OTel,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger.WithField("component", "tenant_resolver"),
		storeTimeout:  cfg.StoreTimeout,
		auditTimeout:  cfg.AuditTimeout,
		now:           time.Now,
	}, nil
}

// Resolve picks the tenant for a request. Errors are *authz.Error values:
// TENANT_REQUIRED, TENANT_ACCESS_DENIED, TENANT_NOT_FOUND, TENANT_INACTIVE or
// STORE_UNAVAILABLE.
func (r *Resolver) Resolve(ctx context.Context, sig Signals) (*Resolution, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "tenants.Resolve")
	defer span.End()

	c, err := r.pick(ctx, sig)
	if err == nil {
		err = r.verify(ctx, &c, sig)
	}

	outcome := outcomeResolved
	if err != nil {
		outcome = strings.ToLower(authz.CodeOf(err))
	}
	span.SetAttributes(
		attribute.String("tenant.source", string(c.source)),
		attribute.String("outcome", outcome),
	)
	if c.id != "" {
		span.SetAttributes(attribute.String("tenant.id", c.id))
	}
	r.metrics.RecordResolution(string(c.source), outcome)
	r.otel.RecordResolutionDuration(ctx, r.now().Sub(start), string(c.source), outcome)

	if err != nil {
		if !authz.IsExpected(err) {
			span.SetStatus(codes.Error, err.Error())
		}
		r.recordFailure(ctx, sig, c, err)
		return nil, err
	}

	if c.source == SourceOwnerBypass {
		r.recordOwnerBypass(ctx, sig, c)
	}

	return &Resolution{
		TenantID:    c.id,
		Source:      c.source,
		Tenant:      c.tenant,
		OwnerBypass: c.source == SourceOwnerBypass,
	}, nil
}

type candidate struct {
	id     string
	source Source
	tenant *store.Tenant
}

// pick runs the strategies in order and returns the first tenant id produced
func (r *Resolver) pick(ctx context.Context, sig Signals) (candidate, error) {
	p := sig.Principal

	if r.ownerBypass && p != nil && p.OwnerDevice && p.HomeTenantID != "" {
		return candidate{id: p.HomeTenantID, source: SourceOwnerBypass}, nil
	}

	if p != nil && p.TenantID != "" {
		return candidate{id: p.TenantID, source: SourceClaim}, nil
	}

	if sig.APIKey != "" && r.caps.APIKeys {
		if id, ok := r.lookupAPIKey(ctx, sig.APIKey); ok {
			return candidate{id: id, source: SourceAPIKey}, nil
		}
	}

	if override := strings.TrimSpace(sig.OverrideTenantID); override != "" {
		c := candidate{id: override, source: SourceHeader}
		return c, r.checkOverride(ctx, p, override)
	}

	if r.caps.Subdomains {
		if id, ok := r.lookupSubdomain(ctx, sig.Host); ok {
			return candidate{id: id, source: SourceSubdomain}, nil
		}
	}

	if r.defaultTenant != "" {
		return candidate{id: r.defaultTenant, source: SourceDefault}, nil
	}

	return candidate{source: sourceNone}, authz.ErrTenantRequired()
}

// lookupAPIKey maps a presented key to its tenant. Misses and store failures
// fall through to the next strategy.
func (r *Resolver) lookupAPIKey(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	start := r.now()
	id, err := r.store.TenantByAPIKeyHash(ctx, auth.HashAPIKey(key))
	r.otel.RecordStoreDuration(ctx, r.now().Sub(start), store.OpTenantByAPIKeyHash, err != nil && !store.IsNotFound(err))

	switch {
	case err == nil:
		return id, true
	case store.IsNotFound(err):
		r.logger.WithField("key_prefix", auth.DisplayPrefix(key)).Debug("api key matched no tenant")
	default:
		r.storeFailure(store.OpTenantByAPIKeyHash, err, "")
	}
	return "", false
}

// lookupSubdomain maps the request host to a tenant. Reserved labels, misses
// and store failures fall through to the next strategy.
func (r *Resolver) lookupSubdomain(ctx context.Context, host string) (string, bool) {
	label, ok := SubdomainFrom(host, r.baseDomain)
	if !ok {
		return "", false
	}
	if _, reserved := r.reserved[label]; reserved {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	start := r.now()
	id, err := r.store.TenantBySubdomain(ctx, label)
	r.otel.RecordStoreDuration(ctx, r.now().Sub(start), store.OpTenantBySubdomain, err != nil && !store.IsNotFound(err))

	switch {
	case err == nil:
		return id, true
	case store.IsNotFound(err):
		r.logger.WithField("subdomain", label).Debug("subdomain matched no tenant")
	default:
		r.storeFailure(store.OpTenantBySubdomain, err, "")
	}
	return "", false
}

// checkOverride allows an explicitly requested tenant only for an
// authenticated member. Any doubt denies.
func (r *Resolver) checkOverride(ctx context.Context, p *auth.Principal, tenantID string) error {
	if p == nil || p.UserID == "" || !wellFormedID(tenantID) {
		return authz.ErrTenantAccessDenied(tenantID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	start := r.now()
	member, err := r.store.HasActiveMembership(ctx, p.UserID, tenantID)
	r.otel.RecordStoreDuration(ctx, r.now().Sub(start), store.OpHasActiveMembership, err != nil)

	if err != nil {
		r.storeFailure(store.OpHasActiveMembership, err, tenantID)
		return authz.ErrTenantAccessDenied(tenantID).Wrap(err)
	}
	if !member {
		return authz.ErrTenantAccessDenied(tenantID)
	}
	return nil
}

// verify loads the chosen tenant and refuses missing or inactive ones
func (r *Resolver) verify(ctx context.Context, c *candidate, sig Signals) error {
	if !wellFormedID(c.id) {
		return authz.ErrTenantNotFound(c.id)
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	start := r.now()
	tenant, err := r.store.TenantStatus(ctx, c.id)
	r.otel.RecordStoreDuration(ctx, r.now().Sub(start), store.OpTenantStatus, err != nil && !store.IsNotFound(err))

	switch {
	case store.IsNotFound(err):
		return authz.ErrTenantNotFound(c.id)
	case err != nil:
		r.storeFailure(store.OpTenantStatus, err, c.id)
		return authz.ErrStoreUnavailable().Wrap(err)
	case !tenant.IsActive():
		r.logger.WithFields(logrus.Fields{
			"tenant_id":      c.id,
			"status":         tenant.Status,
			"source":         c.source,
			"correlation_id": sig.CorrelationID,
		}).Info("refusing inactive tenant")
		return authz.ErrTenantInactive(c.id)
	}

	c.tenant = tenant
	return nil
}

// wellFormedID reports whether id can name a tenant. Malformed ids never
// reach the store.
func wellFormedID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Resolver) storeFailure(op string, err error, tenantID string) {
	r.metrics.RecordStoreError(op)
	r.logger.WithError(err).WithFields(logrus.Fields{
		"operation": op,
		"tenant_id": tenantID,
	}).Error("store lookup failed during tenant resolution")
}

func (r *Resolver) recordFailure(ctx context.Context, sig Signals, c candidate, err error) {
	event := &audit.Event{
		Kind:          audit.KindTenantResolution,
		Result:        audit.ResultDenied,
		Reason:        authz.CodeOf(err),
		Source:        string(c.source),
		IPAddress:     sig.ClientIP,
		UserAgent:     sig.UserAgent,
		CorrelationID: sig.CorrelationID,
	}
	if sig.Principal != nil {
		event.UserID = sig.Principal.UserID
	}
	meta := make(map[string]interface{})
	if sig.Host != "" {
		meta["host"] = sig.Host
	}
	if wellFormedID(c.id) {
		event.TenantID = c.id
	} else if c.id != "" {
		meta["requested_tenant_id"] = truncate(c.id, maxRecordedIDLength)
	}
	if len(meta) > 0 {
		event.Metadata = meta
	}
	r.writeAudit(ctx, event)

	r.logger.WithFields(logrus.Fields{
		"tenant_id":      truncate(c.id, maxRecordedIDLength),
		"source":         c.source,
		"code":           event.Reason,
		"user_id":        event.UserID,
		"correlation_id": sig.CorrelationID,
	}).Info("tenant resolution failed")
}

func (r *Resolver) recordOwnerBypass(ctx context.Context, sig Signals, c candidate) {
	r.metrics.RecordOwnerBypass()
	r.logger.WithFields(logrus.Fields{
		"tenant_id":      c.id,
		"user_id":        sig.Principal.UserID,
		"client_ip":      sig.ClientIP,
		"correlation_id": sig.CorrelationID,
	}).Warn("owner device bypassed tenant resolution")

	r.writeAudit(ctx, &audit.Event{
		Kind:          audit.KindOwnerBypass,
		Severity:      audit.SeverityWarning,
		TenantID:      c.id,
		UserID:        sig.Principal.UserID,
		Result:        audit.ResultAllowed,
		Source:        string(c.source),
		IPAddress:     sig.ClientIP,
		UserAgent:     sig.UserAgent,
		CorrelationID: sig.CorrelationID,
	})
}

// writeAudit writes event on a context that outlives request cancellation
func (r *Resolver) writeAudit(ctx context.Context, event *audit.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.auditTimeout)
	defer cancel()

	if err := r.audit.Log(ctx, event); err != nil {
		r.metrics.RecordAuditFailure(string(event.Kind))
		r.logger.WithError(err).WithFields(logrus.Fields{
			"kind":      event.Kind,
			"tenant_id": event.TenantID,
		}).Warn("failed to write audit event")
	}
}

// maxRecordedIDLength caps caller-supplied ids copied into audit rows and logs
const maxRecordedIDLength = 64

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
