package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

const (
	// DefaultAPIKeyHeader carries an API key for tenant resolution
	DefaultAPIKeyHeader = "X-API-Key"

	// DefaultTenantHeader carries an explicit tenant override
	DefaultTenantHeader = "X-Tenant-ID"
)

// TenantResolver resolves the tenant of a request
type TenantResolver interface {
	Resolve(ctx context.Context, sig tenants.Signals) (*tenants.Resolution, error)
}

// PermissionEvaluator decides permission checks
type PermissionEvaluator interface {
	Evaluate(ctx context.Context, userID, tenantID string, permission rbac.Permission, opts rbac.CheckOptions) rbac.Decision
}

// GuardConfig wires a Guard. Verifier, Resolver and Engine are required.
type GuardConfig struct {
	Verifier auth.Verifier
	Resolver TenantResolver
	Engine   PermissionEvaluator

	// Limiter throttles clients with repeated invalid tokens. Nil disables it.
	Limiter AttemptLimiter

	APIKeyHeader string
	TenantHeader string

	Logger logrus.FieldLogger
}

// Guard composes authentication, tenant resolution and permission checks
// into route middleware.
//
//	router.Handle("/v1/inventory", guard.Protect("inventory:write")(handler))
//
// Each stage stores a derived copy of the immutable request context. A stage
// that fails writes the coded error body and stops the chain, so 401 always
// wins over 403.
type Guard struct {
	verifier     auth.Verifier
	resolver     TenantResolver
	engine       PermissionEvaluator
	limiter      AttemptLimiter
	apiKeyHeader string
	tenantHeader string
	logger       logrus.FieldLogger
}

// NewGuard creates a guard from cfg
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("tenant resolver is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("permission engine is required")
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = DefaultTenantHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Guard{
		verifier:     cfg.Verifier,
		resolver:     cfg.Resolver,
		engine:       cfg.Engine,
		limiter:      cfg.Limiter,
		apiKeyHeader: cfg.APIKeyHeader,
		tenantHeader: cfg.TenantHeader,
		logger:       cfg.Logger.WithField("component", "route_guard"),
	}, nil
}

// Authenticate requires a valid bearer token and binds its principal
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return g.authenticate(next, false)
}

// OptionalAuthenticate binds a principal when a bearer token is present.
// Requests without one pass through unauthenticated; invalid tokens are
// still refused.
func (g *Guard) OptionalAuthenticate(next http.Handler) http.Handler {
	return g.authenticate(next, true)
}

func (g *Guard) authenticate(next http.Handler, optional bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := requestContext(r)

		token := auth.BearerToken(r)
		if token == "" {
			if optional {
				next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestContext(ctx, rc)))
				return
			}
			g.fail(w, r, rc, authz.ErrAuthRequired("missing bearer token"))
			return
		}

		attemptKey := "ip:" + rc.ClientIP()
		if g.throttled(w, r, rc, attemptKey) {
			return
		}

		principal, err := g.verifier.Verify(ctx, token)
		if err != nil || principal == nil || principal.UserID == "" {
			g.recordFailedAttempt(ctx, attemptKey)
			if err == nil {
				err = auth.ErrInvalidToken
			}
			g.fail(w, r, rc, authz.ErrAuthRequired("invalid or expired token").Wrap(err))
			return
		}

		rc = rc.WithPrincipal(principal)
		ctx = contextkeys.WithRequestContext(ctx, rc)
		ctx = contextkeys.WithLogger(ctx, contextkeys.Logger(ctx, g.logger).WithField("user_id", principal.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveTenant binds the request to a tenant
func (g *Guard) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := requestContext(r)

		res, err := g.resolver.Resolve(ctx, tenants.Signals{
			Principal:        rc.Principal(),
			APIKey:           strings.TrimSpace(r.Header.Get(g.apiKeyHeader)),
			OverrideTenantID: strings.TrimSpace(r.Header.Get(g.tenantHeader)),
			Host:             r.Host,
			ClientIP:         rc.ClientIP(),
			UserAgent:        rc.UserAgent(),
			CorrelationID:    rc.CorrelationID(),
		})
		if err != nil {
			g.fail(w, r, rc, err)
			return
		}

		rc = rc.WithTenant(res.TenantID, string(res.Source), res.OwnerBypass)
		ctx = contextkeys.WithRequestContext(ctx, rc)
		ctx = contextkeys.WithLogger(ctx, contextkeys.Logger(ctx, g.logger).WithFields(logrus.Fields{
			"tenant_id":     res.TenantID,
			"tenant_source": res.Source,
		}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission allows the request only if the bound principal holds
// permission in the bound tenant. It answers 401 without a principal and 400
// without a tenant, so a denial is never charged to an unbound request.
// Token claims for the bound tenant may allow the request without a store
// read.
func (g *Guard) RequirePermission(permission rbac.Permission) func(http.Handler) http.Handler {
	return g.requirePermission(permission, false)
}

// RequirePermissionStrict is RequirePermission answered from the membership
// store only. Suspensions and role changes apply on the next request even
// when the token still carries the permission.
func (g *Guard) RequirePermissionStrict(permission rbac.Permission) func(http.Handler) http.Handler {
	return g.requirePermission(permission, true)
}

func (g *Guard) requirePermission(permission rbac.Permission, strict bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc, ok := contextkeys.RequestContextFrom(ctx)
			switch {
			case !ok || !rc.Authenticated():
				g.fail(w, r, rc, authz.ErrAuthRequired(""))
				return
			case rc.TenantID() == "":
				g.fail(w, r, rc, authz.ErrTenantRequired())
				return
			}

			opts := rbac.OptionsFor(rc)
			opts.Strict = strict
			d := g.engine.Evaluate(ctx, rc.Principal().UserID, rc.TenantID(), permission, opts)
			if !d.Allowed {
				g.fail(w, r, rc, authz.ErrPermissionDenied(string(permission)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction is RequirePermission for resource:action
func (g *Guard) RequireAction(resource rbac.Resource, action rbac.Action) func(http.Handler) http.Handler {
	return g.RequirePermission(rbac.NewPermission(resource, action))
}

// Bind authenticates the caller and resolves the tenant without checking a
// permission. Handlers behind it run their own checks.
func (g *Guard) Bind(next http.Handler) http.Handler {
	return g.Authenticate(g.ResolveTenant(next))
}

// Protect authenticates, resolves the tenant and requires permission
func (g *Guard) Protect(permission rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Bind(g.RequirePermission(permission)(next))
	}
}

// ProtectStrict is Protect with a store-backed permission check
func (g *Guard) ProtectStrict(permission rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Bind(g.RequirePermissionStrict(permission)(next))
	}
}

// ScopeQuery returns the tenant scope data access must apply for r
func ScopeQuery(r *http.Request) (tenants.Scope, error) {
	rc, ok := contextkeys.RequestContextFrom(r.Context())
	if !ok || rc.TenantID() == "" {
		return tenants.Scope{}, authz.ErrTenantRequired()
	}
	return tenants.Scope{TenantID: rc.TenantID()}, nil
}

// throttled answers 429 when key has too many failed attempts. Limiter
// failures let the request through.
func (g *Guard) throttled(w http.ResponseWriter, r *http.Request, rc contextkeys.RequestContext, key string) bool {
	if g.limiter == nil {
		return false
	}

	blocked, retryAfter, err := g.limiter.Blocked(r.Context(), key)
	if err != nil {
		contextkeys.Logger(r.Context(), g.logger).WithError(err).Warn("attempt limiter unavailable")
		return false
	}
	if !blocked {
		return false
	}

	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	g.fail(w, r, rc, authz.ErrRateLimited())
	return true
}

func (g *Guard) recordFailedAttempt(ctx context.Context, key string) {
	if g.limiter == nil {
		return
	}
	if err := g.limiter.Fail(ctx, key); err != nil {
		contextkeys.Logger(ctx, g.logger).WithError(err).Warn("failed to record authentication failure")
	}
}

// fail writes err and logs it. Expected outcomes are logged at info,
// everything else at error.
func (g *Guard) fail(w http.ResponseWriter, r *http.Request, rc contextkeys.RequestContext, err error) {
	entry := contextkeys.Logger(r.Context(), g.logger).WithFields(logrus.Fields{
		"code":   authz.CodeOf(err),
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if authz.IsExpected(err) {
		entry.WithError(err).Info("request refused")
	} else {
		entry.WithError(err).Error("request failed")
	}
	httputil.WriteAuthzError(w, err, rc.CorrelationID())
}

// requestContext returns the request context set by Correlation, or a fresh
// one built from r when the middleware was not installed.
func requestContext(r *http.Request) contextkeys.RequestContext {
	if rc, ok := contextkeys.RequestContextFrom(r.Context()); ok {
		return rc
	}
	return contextkeys.NewRequestContext(correlationIDFrom(r), httputil.ClientIP(r), r.UserAgent())
}
