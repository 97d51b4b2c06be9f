// Package model defines the data structures shared by the client core.
// In Go, we use structs to represent our data, composed rather than inherited.
package model

import "time"

// Session is the credential bundle issued by the auth backend.
//
// The backend client owns it exclusively. A copy is mirrored into the local
// cache so a cold start can restore it, but the in-memory value held by the
// client is authoritative.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(d).After(s.ExpiresAt)
}

// Tokens is an explicit access/refresh pair, as delivered by the legacy
// fragment flow (#access_token=...&refresh_token=...).
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
