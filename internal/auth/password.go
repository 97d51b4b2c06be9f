package auth

import (
	"unicode/utf8"

	"github.com/sakif/crewcall/internal/apperror"
)

// Password length rules enforced by the backend. Checking them locally lets the
// reset-password screen fail fast without a round trip.
//
// The upper bound is bcrypt's 72-byte input limit: the backend hashes with
// bcrypt, which silently truncates longer input.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// ValidatePassword checks a new password against the backend's rules.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperror.ValidationFailed("password", "password must be at least 6 characters")
	}
	if len(password) > MaxPasswordBytes {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}
