package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/store"
)

const (
	// DefaultStoreTimeout bounds each store call made by a check
	DefaultStoreTimeout = 2 * time.Second

	// DefaultAuditTimeout bounds each audit write
	DefaultAuditTimeout = 2 * time.Second

	// invalidPermissionLabel replaces permissions outside the catalog in
	// per-permission metrics
	invalidPermissionLabel = "invalid"
)

// EngineConfig wires an Engine. Catalog and Store are required.
type EngineConfig struct {
	Catalog *Catalog
	Store   store.MembershipStore

	Audit   audit.Logger
	Metrics *observability.Metrics
	OTel    *observability.OTelMetrics
	Tracer  trace.Tracer
	Logger  logrus.FieldLogger

	StoreTimeout time.Duration
	AuditTimeout time.Duration
}

// Engine decides whether a user may use a permission inside a tenant.
//
// Checks fail closed: any store failure, timeout or internal fault denies.
// Every check writes exactly one permission_check audit event, and a failed
// audit write never changes the decision.
type Engine struct {
	catalog      *Catalog
	store        store.MembershipStore
	audit        audit.Logger
	metrics      *observability.Metrics
	otel         *observability.OTelMetrics
	tracer       trace.Tracer
	logger       logrus.FieldLogger
	storeTimeout time.Duration
	auditTimeout time.Duration
	now          func() time.Time
}

// NewEngine creates an engine from cfg
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("permission catalog is required")
	}
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

	return &Engine{
		catalog:      cfg.Catalog,
		store:        cfg.Store,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		otel:         cfg.OTel,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger.WithField("component", "permission_engine"),
		storeTimeout: cfg.StoreTimeout,
		auditTimeout: cfg.AuditTimeout,
		now:          time.Now,
	}, nil
}

// Catalog returns the catalog the engine expands grants with
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Check reports whether userID may use permission in tenantID
func (e *Engine) Check(ctx context.Context, userID, tenantID string, permission Permission, opts CheckOptions) bool {
	return e.Evaluate(ctx, userID, tenantID, permission, opts).Allowed
}

// Evaluate runs a check and returns the full decision. It never panics and
// never returns an error: failures become denials with a reason.
func (e *Engine) Evaluate(ctx context.Context, userID, tenantID string, permission Permission, opts CheckOptions) (d Decision) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("permission", string(permission)),
	))

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"panic":      r,
				"tenant_id":  tenantID,
				"user_id":    userID,
				"permission": permission,
			}).Error("permission check panicked")
			d = e.decide(permission, false, ReasonInternalError, "")
		}

		span.SetAttributes(
			attribute.Bool("allowed", d.Allowed),
			attribute.String("reason", string(d.Reason)),
		)
		if d.Reason == ReasonStoreError || d.Reason == ReasonInternalError {
			span.SetStatus(codes.Error, string(d.Reason))
		}
		span.End()

		e.metrics.RecordCheck(e.metricLabel(permission), d.Allowed, string(d.Reason))
		e.otel.RecordCheckDuration(ctx, e.now().Sub(start), d.Allowed, string(d.Reason))
		e.record(ctx, userID, tenantID, d, opts)
	}()

	return e.evaluate(ctx, userID, tenantID, permission, opts)
}

func (e *Engine) evaluate(ctx context.Context, userID, tenantID string, permission Permission, opts CheckOptions) Decision {
	if userID == "" || tenantID == "" {
		return e.decide(permission, false, ReasonMissingSubject, "")
	}
	if !e.catalog.IsValid(permission) {
		return e.decide(permission, false, ReasonInvalidPermission, "")
	}

	if len(opts.ClaimPermissions) > 0 && !opts.Strict && opts.ClaimTenantID == tenantID {
		if e.catalog.ExpandAll(Permissions(opts.ClaimPermissions)).Has(permission) {
			return e.decide(permission, true, ReasonClaimGranted, "")
		}
	}

	role, err := e.activeRole(ctx, userID, tenantID)
	switch {
	case store.IsNotFound(err):
		return e.decide(permission, false, ReasonNoRole, "")
	case err != nil:
		e.storeFailure(store.OpActiveRoleOf, err, userID, tenantID)
		return e.decide(permission, false, ReasonStoreError, "")
	}

	grants, err := e.grantsOf(ctx, role.ID)
	if err != nil {
		e.storeFailure(store.OpPermissionsGrantedTo, err, userID, tenantID)
		return e.decide(permission, false, ReasonStoreError, role.ID)
	}
	if len(grants) == 0 {
		return e.decide(permission, false, ReasonNoPermissions, role.ID)
	}

	if e.catalog.ExpandAll(Permissions(grants)).Has(permission) {
		return e.decide(permission, true, ReasonGranted, role.ID)
	}
	return e.decide(permission, false, ReasonNotGranted, role.ID)
}

// metricLabel keeps the denial series bounded by the catalog
func (e *Engine) metricLabel(permission Permission) string {
	if !e.catalog.IsValid(permission) {
		return invalidPermissionLabel
	}
	return string(permission)
}

func (e *Engine) decide(permission Permission, allowed bool, reason Reason, roleID string) Decision {
	return Decision{
		Allowed:    allowed,
		Permission: permission,
		Reason:     reason,
		RoleID:     roleID,
		CheckedAt:  e.now().UTC(),
	}
}

func (e *Engine) activeRole(ctx context.Context, userID, tenantID string) (*store.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	start := e.now()
	role, err := e.store.ActiveRoleOf(ctx, userID, tenantID)
	e.otel.RecordStoreDuration(ctx, e.now().Sub(start), store.OpActiveRoleOf, err != nil && !store.IsNotFound(err))
	return role, err
}

func (e *Engine) grantsOf(ctx context.Context, roleID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	start := e.now()
	grants, err := e.store.PermissionsGrantedTo(ctx, roleID)
	e.otel.RecordStoreDuration(ctx, e.now().Sub(start), store.OpPermissionsGrantedTo, err != nil)
	return grants, err
}

func (e *Engine) storeFailure(op string, err error, userID, tenantID string) {
	e.metrics.RecordStoreError(op)
	e.logger.WithError(err).WithFields(logrus.Fields{
		"operation": op,
		"tenant_id": tenantID,
		"user_id":   userID,
	}).Error("store lookup failed during permission check")
}

// record writes the audit event for one check. Audit failures are logged and
// counted only.
func (e *Engine) record(ctx context.Context, userID, tenantID string, d Decision, opts CheckOptions) {
	event := &audit.Event{
		Timestamp:     d.CheckedAt,
		Kind:          audit.KindPermissionCheck,
		TenantID:      tenantID,
		UserID:        userID,
		Permission:    string(d.Permission),
		Result:        audit.ResultOf(d.Allowed),
		Reason:        string(d.Reason),
		IPAddress:     opts.IPAddress,
		UserAgent:     opts.UserAgent,
		CorrelationID: opts.CorrelationID,
	}
	if d.RoleID != "" {
		event.Metadata = map[string]interface{}{"role_id": d.RoleID}
	}
	e.writeAudit(ctx, event)

	entry := e.logger.WithFields(logrus.Fields{
		"tenant_id":      tenantID,
		"user_id":        userID,
		"permission":     d.Permission,
		"reason":         d.Reason,
		"correlation_id": opts.CorrelationID,
	})
	if d.Allowed {
		entry.Debug("permission granted")
	} else {
		entry.Info("permission denied")
	}
}

// writeAudit writes event on a context that outlives request cancellation
func (e *Engine) writeAudit(ctx context.Context, event *audit.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditTimeout)
	defer cancel()

	if err := e.audit.Log(ctx, event); err != nil {
		e.metrics.RecordAuditFailure(string(event.Kind))
		e.logger.WithError(err).WithFields(logrus.Fields{
			"kind":       event.Kind,
			"tenant_id":  event.TenantID,
			"user_id":    event.UserID,
			"permission": event.Permission,
		}).Warn("failed to write audit event")
	}
}

// CanPerformAction checks the resource:action permission
func (e *Engine) CanPerformAction(ctx context.Context, userID, tenantID string, resource Resource, action Action, opts CheckOptions) bool {
	return e.Check(ctx, userID, tenantID, NewPermission(resource, action), opts)
}

// CanRead checks resource:read
func (e *Engine) CanRead(ctx context.Context, userID, tenantID string, resource Resource, opts CheckOptions) bool {
	return e.CanPerformAction(ctx, userID, tenantID, resource, ActionRead, opts)
}

// CanWrite checks resource:write
func (e *Engine) CanWrite(ctx context.Context, userID, tenantID string, resource Resource, opts CheckOptions) bool {
	return e.CanPerformAction(ctx, userID, tenantID, resource, ActionWrite, opts)
}

// CanDelete checks resource:delete
func (e *Engine) CanDelete(ctx context.Context, userID, tenantID string, resource Resource, opts CheckOptions) bool {
	return e.CanPerformAction(ctx, userID, tenantID, resource, ActionDelete, opts)
}

// CanAdmin checks resource:admin
func (e *Engine) CanAdmin(ctx context.Context, userID, tenantID string, resource Resource, opts CheckOptions) bool {
	return e.CanPerformAction(ctx, userID, tenantID, resource, ActionAdmin, opts)
}

// GetUserPermissions returns the sorted, expanded permissions of userID's
// active role in tenantID. A user without an active membership has none.
//
// The result is always read from the store. Claim permissions carried by a
// token are not included; callers that honor claims use
// GetEffectivePermissions.
func (e *Engine) GetUserPermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.GetUserPermissions", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	role, err := e.activeRole(ctx, userID, tenantID)
	if store.IsNotFound(err) {
		return []string{}, nil
	}
	if err != nil {
		e.storeFailure(store.OpActiveRoleOf, err, userID, tenantID)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load active role: %w", err)
	}

	grants, err := e.grantsOf(ctx, role.ID)
	if err != nil {
		e.storeFailure(store.OpPermissionsGrantedTo, err, userID, tenantID)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}

	return e.catalog.ExpandAll(Permissions(grants)).Strings(), nil
}

// GetEffectivePermissions returns what Check would allow for userID in
// tenantID under opts: the store-backed permissions plus the expanded claim
// permissions when they apply to tenantID.
func (e *Engine) GetEffectivePermissions(ctx context.Context, userID, tenantID string, opts CheckOptions) ([]string, error) {
	perms, err := e.GetUserPermissions(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if len(opts.ClaimPermissions) == 0 || opts.Strict || opts.ClaimTenantID != tenantID {
		return perms, nil
	}

	set := e.catalog.ExpandAll(Permissions(opts.ClaimPermissions))
	for _, p := range perms {
		set[Permission(p)] = struct{}{}
	}
	return set.Strings(), nil
}
