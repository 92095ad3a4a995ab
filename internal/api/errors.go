package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/playrelay/internal/credential"
	"github.com/nerrad567/playrelay/internal/relay"
	"github.com/nerrad567/playrelay/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeUnauthenticated   = "unauthenticated"
	ErrCodeInvalidCredential = "invalid_credential"
	ErrCodeInvalidInput      = "invalid_input"
	ErrCodeNotFound          = "not_found"
	ErrCodeForbidden         = "forbidden"
	ErrCodeUnavailable       = "unavailable"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal_error"
)

// Authentication failures. The messages never say which part of a
// credential was wrong.
var (
	errMissingKey = errors.New("api key required")
	errInvalidKey = errors.New("invalid api key")
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Success: false,
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidInput, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthError writes a 401 for a missing or unrecognised key.
func writeAuthError(w http.ResponseWriter, err error) {
	code := ErrCodeInvalidCredential
	if errors.Is(err, errMissingKey) {
		code = ErrCodeUnauthenticated
	}
	writeError(w, http.StatusUnauthorized, code, err.Error())
}

// writeDomainError maps a domain error to its HTTP status. Anything
// unrecognised is a 500 with a generic message.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case isValidationError(err):
		writeBadRequest(w, err.Error())
	case errors.Is(err, credential.ErrKeyNotFound), errors.Is(err, session.ErrSessionNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, credential.ErrSetupClosed):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthenticated, errMissingKey.Error())
	case errors.Is(err, credential.ErrEnvironmentKey):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, relay.ErrNoRecipients):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}

// isValidationError reports whether err is caused by bad caller input.
func isValidationError(err error) bool {
	return relay.IsInputError(err) || errors.Is(err, credential.ErrInvalidName)
}
