package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// OptionsFor builds check options from an authenticated request context:
// token permissions feed the claim fast path for the token's own tenant and
// request metadata goes to audit.
func OptionsFor(rc contextkeys.RequestContext) CheckOptions {
	opts := CheckOptions{
		IPAddress:     rc.ClientIP(),
		UserAgent:     rc.UserAgent(),
		CorrelationID: rc.CorrelationID(),
	}
	if p := rc.Principal(); p != nil {
		opts.ClaimPermissions = p.Permissions
		opts.ClaimTenantID = p.TenantID
	}
	return opts
}

// ActorFor builds the admin actor from an authenticated request context
func ActorFor(rc contextkeys.RequestContext) Actor {
	actor := Actor{
		IPAddress:     rc.ClientIP(),
		UserAgent:     rc.UserAgent(),
		CorrelationID: rc.CorrelationID(),
	}
	if p := rc.Principal(); p != nil {
		actor.UserID = p.UserID
	}
	return actor
}

// Handlers serves permission queries and administrative writes. Every route
// expects an authenticated principal and a resolved tenant in the request context.
type Handlers struct {
	engine *Engine
	admin  *Admin
	logger logrus.FieldLogger
}

// NewHandlers creates RBAC handlers
func NewHandlers(engine *Engine, admin *Admin, logger logrus.FieldLogger) *Handlers {
	return &Handlers{engine: engine, admin: admin, logger: logger}
}

// RegisterRoutes mounts the RBAC routes on router. bind wraps each handler and
// must authenticate the caller and resolve the tenant; the admin writes run
// their own permission checks.
func (h *Handlers) RegisterRoutes(router *mux.Router, bind func(http.Handler) http.Handler) {
	router.Handle("/v1/me/permissions", bind(http.HandlerFunc(h.MyPermissions))).Methods(http.MethodGet)
	router.Handle("/v1/authz/check", bind(http.HandlerFunc(h.CheckPermission))).Methods(http.MethodPost)
	router.Handle("/v1/roles", bind(http.HandlerFunc(h.CreateRole))).Methods(http.MethodPost)
	router.Handle("/v1/roles/{id}", bind(http.HandlerFunc(h.DeleteRole))).Methods(http.MethodDelete)
	router.Handle("/v1/members/{user_id}", bind(http.HandlerFunc(h.AssignRole))).Methods(http.MethodPut)
	router.Handle("/v1/members/{user_id}/suspend", bind(http.HandlerFunc(h.SuspendMember))).Methods(http.MethodPost)
	router.Handle("/v1/members/{user_id}", bind(http.HandlerFunc(h.RemoveMember))).Methods(http.MethodDelete)
}

// bound returns the request context of a request that passed authentication
// and tenant resolution, or writes the matching error.
func bound(w http.ResponseWriter, r *http.Request) (contextkeys.RequestContext, bool) {
	rc, ok := contextkeys.RequestContextFrom(r.Context())
	switch {
	case !ok || !rc.Authenticated():
		httputil.WriteAuthzError(w, authz.ErrAuthRequired(""), rc.CorrelationID())
		return rc, false
	case rc.TenantID() == "":
		httputil.WriteAuthzError(w, authz.ErrTenantRequired(), rc.CorrelationID())
		return rc, false
	}
	return rc, true
}

// PermissionsResponse is the body of GET /v1/me/permissions
type PermissionsResponse struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// MyPermissions handles GET /v1/me/permissions. The list matches what a
// non-strict check allows, token claims included.
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}
	userID := rc.Principal().UserID

	perms, err := h.engine.GetEffectivePermissions(r.Context(), userID, rc.TenantID(), OptionsFor(rc))
	if err != nil {
		contextkeys.Logger(r.Context(), h.logger).WithError(err).Error("failed to list permissions")
		httputil.WriteAuthzError(w, authz.ErrStoreUnavailable().Wrap(err), rc.CorrelationID())
		return
	}
	httputil.WriteSuccess(w, PermissionsResponse{
		TenantID:    rc.TenantID(),
		UserID:      userID,
		Permissions: perms,
	})
}

// CheckRequest is the body of POST /v1/authz/check
type CheckRequest struct {
	Permission string `json:"permission"`
	Strict     bool   `json:"strict,omitempty"`
}

// CheckPermission handles POST /v1/authz/check for the caller
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteAuthzError(w, authz.ErrInvalidRequest(err.Error()), rc.CorrelationID())
		return
	}
	if req.Permission == "" {
		httputil.WriteAuthzError(w, authz.ErrInvalidRequest("permission is required"), rc.CorrelationID())
		return
	}

	opts := OptionsFor(rc)
	opts.Strict = req.Strict
	decision := h.engine.Evaluate(r.Context(), rc.Principal().UserID, rc.TenantID(), Permission(req.Permission), opts)
	httputil.WriteSuccess(w, decision)
}

// CreateRoleRequest is the body of POST /v1/roles
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// CreateRole handles POST /v1/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	var req CreateRoleRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteAuthzError(w, authz.ErrInvalidRequest(err.Error()), rc.CorrelationID())
		return
	}

	role, err := h.admin.CreateRole(r.Context(), ActorFor(rc), rc.TenantID(), req.Name, req.Description, req.Permissions)
	if err != nil {
		httputil.WriteAuthzError(w, err, rc.CorrelationID())
		return
	}
	httputil.WriteCreated(w, role)
}

// DeleteRole handles DELETE /v1/roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	if err := h.admin.DeleteRole(r.Context(), ActorFor(rc), rc.TenantID(), httputil.PathParam(r, "id")); err != nil {
		httputil.WriteAuthzError(w, err, rc.CorrelationID())
		return
	}
	httputil.WriteNoContent(w)
}

// AssignRoleRequest is the body of PUT /v1/members/{user_id}
type AssignRoleRequest struct {
	RoleID string `json:"role_id"`
}

// AssignRole handles PUT /v1/members/{user_id}
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	var req AssignRoleRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteAuthzError(w, authz.ErrInvalidRequest(err.Error()), rc.CorrelationID())
		return
	}

	userID := httputil.PathParam(r, "user_id")
	if err := h.admin.AssignRole(r.Context(), ActorFor(rc), rc.TenantID(), userID, req.RoleID); err != nil {
		httputil.WriteAuthzError(w, err, rc.CorrelationID())
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"tenant_id": rc.TenantID(),
		"user_id":   userID,
		"role_id":   req.RoleID,
		"status":    "active",
	})
}

// SuspendMember handles POST /v1/members/{user_id}/suspend
func (h *Handlers) SuspendMember(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	if err := h.admin.SuspendMembership(r.Context(), ActorFor(rc), rc.TenantID(), httputil.PathParam(r, "user_id")); err != nil {
		httputil.WriteAuthzError(w, err, rc.CorrelationID())
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveMember handles DELETE /v1/members/{user_id}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	rc, ok := bound(w, r)
	if !ok {
		return
	}

	if err := h.admin.RemoveMembership(r.Context(), ActorFor(rc), rc.TenantID(), httputil.PathParam(r, "user_id")); err != nil {
		httputil.WriteAuthzError(w, err, rc.CorrelationID())
		return
	}
	httputil.WriteNoContent(w)
}
