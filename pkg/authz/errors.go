// Package authz defines the coded errors returned by the authorization core.
//
// Every failure that can reach a client carries a stable code and the HTTP status
// that code maps to, so guards and handlers render the same body for the same cause.
package authz

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes exposed in response bodies.
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeTenantRequired     = "TENANT_REQUIRED"
	CodeTenantAccessDenied = "TENANT_ACCESS_DENIED"
	CodeTenantInactive     = "TENANT_INACTIVE"
	CodeTenantNotFound     = "TENANT_NOT_FOUND"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeInvalidPermission  = "INVALID_PERMISSION"
	CodeRoleProtected      = "ROLE_PROTECTED"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// httpStatusMap maps error codes to HTTP status codes.
var httpStatusMap = map[string]int{
	CodeAuthRequired:       http.StatusUnauthorized,        // 401
	CodeTenantRequired:     http.StatusBadRequest,          // 400
	CodeTenantAccessDenied: http.StatusForbidden,           // 403
	CodeTenantInactive:     http.StatusForbidden,           // 403
	CodeTenantNotFound:     http.StatusNotFound,            // 404
	CodePermissionDenied:   http.StatusForbidden,           // 403
	CodeInvalidPermission:  http.StatusBadRequest,          // 400
	CodeRoleProtected:      http.StatusForbidden,           // 403
	CodeNotFound:           http.StatusNotFound,            // 404
	CodeConflict:           http.StatusConflict,            // 409
	CodeInvalidRequest:     http.StatusBadRequest,          // 400
	CodeRateLimited:        http.StatusTooManyRequests,     // 429
	CodeStoreUnavailable:   http.StatusServiceUnavailable,  // 503
	CodeInternal:           http.StatusInternalServerError, // 500
}

// Error is an authorization failure with a structured code.
type Error struct {
	Code     string // One of the Code* constants
	Message  string // Human-readable description
	Status   int    // HTTP status code
	Required string // Permission the caller lacked, set for PERMISSION_DENIED
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string) *Error {
	status, ok := httpStatusMap[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Wrap attaches an underlying cause to the error. The cause never reaches clients.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// ErrAuthRequired is returned when no valid credential was presented.
func ErrAuthRequired(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeAuthRequired, message)
}

// ErrTenantRequired is returned when no strategy produced a tenant and no default is configured.
func ErrTenantRequired() *Error {
	return newError(CodeTenantRequired, "tenant context could not be determined")
}

// ErrTenantAccessDenied is returned when the caller explicitly asked for a tenant they cannot access.
func ErrTenantAccessDenied(tenantID string) *Error {
	return newError(CodeTenantAccessDenied, fmt.Sprintf("access to tenant %q denied", tenantID))
}

// ErrTenantInactive is returned when the resolved tenant is not active.
func ErrTenantInactive(tenantID string) *Error {
	return newError(CodeTenantInactive, fmt.Sprintf("tenant %q is not active", tenantID))
}

// ErrTenantNotFound is returned when the resolved tenant id does not exist.
func ErrTenantNotFound(tenantID string) *Error {
	return newError(CodeTenantNotFound, fmt.Sprintf("tenant %q not found", tenantID))
}

// ErrPermissionDenied is returned when the principal lacks the required permission.
func ErrPermissionDenied(permission string) *Error {
	e := newError(CodePermissionDenied, "insufficient permissions")
	e.Required = permission
	return e
}

// ErrInvalidPermission is returned when a role is granted a permission outside the catalog.
func ErrInvalidPermission(permission string) *Error {
	return newError(CodeInvalidPermission, fmt.Sprintf("unknown permission %q", permission))
}

// ErrRoleProtected is returned when deleting a system role.
func ErrRoleProtected(roleID string) *Error {
	return newError(CodeRoleProtected, fmt.Sprintf("role %q is a system role and cannot be deleted", roleID))
}

// ErrNotFound is returned for missing roles or memberships.
func ErrNotFound(what string) *Error {
	return newError(CodeNotFound, fmt.Sprintf("%s not found", what))
}

// ErrConflict is returned when a write collides with existing state, such as a
// duplicate role name or deleting a role still assigned to members.
func ErrConflict(message string) *Error {
	return newError(CodeConflict, message)
}

// ErrInvalidRequest is returned for malformed input.
func ErrInvalidRequest(message string) *Error {
	return newError(CodeInvalidRequest, message)
}

// ErrRateLimited is returned when a client exceeded its failed credential attempts.
func ErrRateLimited() *Error {
	return newError(CodeRateLimited, "too many failed authentication attempts")
}

// ErrStoreUnavailable is returned when a critical store lookup failed.
func ErrStoreUnavailable() *Error {
	return newError(CodeStoreUnavailable, "authorization store unavailable")
}

// ErrInternal is returned for unexpected failures.
func ErrInternal() *Error {
	return newError(CodeInternal, "internal error")
}

// CodeOf extracts the error code from err, or "" if err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsAuthzError reports whether err is or wraps an *Error.
func IsAuthzError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsExpected reports whether err is a normal authorization outcome rather than an
// infrastructure failure.
func IsExpected(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status < http.StatusInternalServerError
}
