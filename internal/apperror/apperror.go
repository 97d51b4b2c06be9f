// Package apperror defines the error kinds shared across the client core.
//
// Every failure that crosses a package boundary is either a sentinel below or
// an *AppError wrapping one, so callers can branch with errors.Is without
// knowing which component produced it:
//
//	if errors.Is(err, apperror.ErrAuthExchange) {
//	    // show the "link expired" banner, keep going
//	}
package apperror

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrURLParse           = errors.New("url parse")
	ErrAuthExchange       = errors.New("auth code exchange")
	ErrAuthSession        = errors.New("auth session")
	ErrProfileFetch       = errors.New("profile fetch")
	ErrNavigationNotReady = errors.New("navigation not ready")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: lower-level error that triggered this one
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned when the backend rejects the session's bearer token.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// URLParse records that a URL could not be parsed structurally.
// It is never fatal: the parser falls back to best-effort splitting.
//
// Callback URLs carry tokens, so neither the message nor the cause repeats
// the URL; a *url.Error is reduced to the reason it wraps.
func URLParse(cause error) *AppError {
	var uerr *url.Error
	if errors.As(cause, &uerr) {
		cause = uerr.Err
	}
	return &AppError{
		Err:     ErrURLParse,
		Message: "could not parse url",
		Cause:   cause,
	}
}

// AuthExchange wraps a failed PKCE code exchange (invalid, expired or reused code).
func AuthExchange(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuthExchange,
		Message: message,
		Cause:   cause,
	}
}

// AuthSession wraps a failure to restore a session from explicit tokens.
func AuthSession(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuthSession,
		Message: message,
		Cause:   cause,
	}
}

// ProfileFetch wraps a failure to load the user's profile row.
// Routing treats it as "profile incomplete".
func ProfileFetch(userID string, cause error) *AppError {
	return &AppError{
		Err:     ErrProfileFetch,
		Message: fmt.Sprintf("fetching profile for user %s", userID),
		Cause:   cause,
	}
}

// NavigationNotReady is returned when a command is run before the navigation
// container has mounted. The command queue absorbs it.
func NavigationNotReady(command string) *AppError {
	return &AppError{
		Err:     ErrNavigationNotReady,
		Message: fmt.Sprintf("navigation container not ready for %s", command),
	}
}
