// Package httputil holds the JSON request and response helpers shared by
// the handler and middleware packages, so every error leaves the service
// in the same envelope.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error envelope every layer emits.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteBadRequest writes a bad request error (400).
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: message}) //nolint:errcheck
}

// WriteUnauthorized writes an unauthorized error (401).
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: message}) //nolint:errcheck
}

// WriteForbidden writes a forbidden error (403) carrying the machine
// readable reason code.
func WriteForbidden(w http.ResponseWriter, code string) {
	WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Code: code}) //nolint:errcheck
}

// WriteNotFound writes a not found error (404).
func WriteNotFound(w http.ResponseWriter) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"}) //nolint:errcheck
}

// WriteInternalError writes an internal server error (500). The underlying
// error is logged by the caller, never exposed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"}) //nolint:errcheck
}
