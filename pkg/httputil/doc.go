// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteAuthzError(w, authz.ErrPermissionDenied("inventory:write"), correlationID)
//
// Every error body has the same shape:
//
//	{"error": "insufficient permissions", "code": "PERMISSION_DENIED",
//	 "required": "inventory:write", "correlation_id": "..."}
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if err := httputil.ParseJSON(w, r, &req); err != nil { ... }
//	roleID := httputil.PathParam(r, "id")
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
//	handler = httputil.RecoveryMiddleware(logger)(httputil.LoggingMiddleware(logger)(handler))
package httputil
