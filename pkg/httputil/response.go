// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantguard/pkg/authz"
)

// CorrelationHeader carries the correlation id on requests and responses
const CorrelationHeader = "X-Correlation-ID"

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Required      string `json:"required,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteAuthzError renders err as an ErrorResponse. Errors that are not coded
// authorization errors are reported as INTERNAL without exposing their text.
func WriteAuthzError(w http.ResponseWriter, err error, correlationID string) {
	var coded *authz.Error
	if !errors.As(err, &coded) {
		coded = authz.ErrInternal()
	}

	if correlationID != "" {
		w.Header().Set(CorrelationHeader, correlationID)
	}
	WriteJSON(w, coded.Status, ErrorResponse{
		Error:         coded.Message,
		Code:          coded.Code,
		Required:      coded.Required,
		CorrelationID: correlationID,
	})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
