package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/fabrik/internal/envman"
)

// Error codes returned in API responses
const (
	ErrCodeUnknownEnv       = "UNKNOWN_ENV"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeDuplicateSession = "DUPLICATE_SESSION"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeEngineError      = "ENGINE_ERROR"
	ErrCodeTransferError    = "TRANSFER_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// classify maps an engine error to an error code and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, envman.ErrUnknownEnv):
		return ErrCodeUnknownEnv, http.StatusNotFound
	case errors.Is(err, envman.ErrNoSuchSession):
		return ErrCodeSessionNotFound, http.StatusNotFound
	case errors.Is(err, envman.ErrDuplicateSession):
		return ErrCodeDuplicateSession, http.StatusConflict
	case errors.Is(err, envman.ErrInvalidCommand):
		return ErrCodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, envman.ErrEngine):
		return ErrCodeEngineError, http.StatusBadGateway
	case errors.Is(err, envman.ErrTransfer):
		return ErrCodeTransferError, http.StatusBadGateway
	}
	return ErrCodeInternalError, http.StatusInternalServerError
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
