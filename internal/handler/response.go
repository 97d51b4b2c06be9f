package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors, over
// plain HTTP and over the bridge.
//
// CONSISTENT ERROR FORMAT:
// Every error has the same shape:
//   {"error": "validation_error", "message": "full name is required", "field": "full_name"}
//
// The page can put the message next to the offending field without knowing
// which endpoint or action produced it.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/crewcall/internal/apperror"
)

// ErrorResponse is the standard error format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body. Once Encode writes, the
// headers are gone.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to its HTTP status and sends it.
func writeError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	writeJSON(w, status, body)
}

// describeError translates a domain error into a status code and the body
// the page sees.
//
// errors.Is() UNWRAPPING:
// The service layer wraps with fmt.Errorf("...: %w", err), so the AppError
// may sit several layers down. errors.As finds it; errors.Is matches its kind.
//
// Unknown errors become a generic 500. Their text may carry URLs or tokens
// and is never shown to the page.
func describeError(err error) (int, *ErrorResponse) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, &ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		}
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrAuthExchange), errors.Is(err, apperror.ErrAuthSession):
		status, errorType = http.StatusBadGateway, "auth_error"
	case errors.Is(err, apperror.ErrProfileFetch):
		status, errorType = http.StatusBadGateway, "profile_error"
	}
	return status, &ErrorResponse{Error: errorType, Message: appErr.Message, Field: appErr.Field}
}
