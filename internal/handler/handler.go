// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/signsure/signsure/internal/handler/dto"
	"github.com/signsure/signsure/internal/middleware"
)

// Version is the API version reported by the root endpoint.
const Version = "1.0.0"

// Error codes.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeMissingFields    = "MISSING_FIELDS"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidPublicKey = "INVALID_PUBLIC_KEY"
	CodeEmailTaken       = "EMAIL_TAKEN"
	CodeInvalidLogin     = "INVALID_CREDENTIALS"
	CodeInvalidOTP       = "INVALID_OTP"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeInternal         = "INTERNAL_ERROR"
)

// Handler serves the service info and fallback routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Info describes the service.
// GET /
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "SignSure API",
		"version": Version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeMessage writes a successful envelope.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, dto.MessageResponse{Success: true, Message: message})
}

// writeError writes a failed envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.MessageResponse{Success: false, Message: message, Code: code})
}

// decodeJSON reads a JSON body into dst. It writes the error response
// itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	switch {
	case middleware.IsBodyTooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Request body is required")
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid request body")
	}
	return false
}
