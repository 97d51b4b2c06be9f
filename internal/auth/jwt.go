// Package auth holds the client-side credential helpers: the PKCE token client,
// access-token inspection, the sealed on-device session cache and password rules.
//
// ACCESS TOKENS ARE JWTs:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<user id>","email":"...","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, project secret)
//
// The client reads sub/email/exp to know who is signed in and when to refresh.
// It normally does NOT hold the project secret, so it cannot verify the
// signature; the backend does that on every request. When a secret is
// configured (self-hosted development), tokens are verified as well.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client needs out of an access token.
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type accessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenInspector reads access tokens.
type TokenInspector struct {
	secret []byte
}

// NewTokenInspector creates a TokenInspector. An empty secret means tokens are
// decoded without signature verification.
func NewTokenInspector(secret string) (*TokenInspector, error) {
	if secret != "" && len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenInspector{secret: []byte(secret)}, nil
}

// Verifies reports whether signatures are checked.
func (ti *TokenInspector) Verifies() bool {
	return len(ti.secret) > 0
}

// Parse extracts the claims of an access token.
//
// Expiry is NOT enforced here: an expired token still tells us whose refresh
// token we hold, and the caller decides whether to refresh.
//
// ALGORITHM CONFUSION ATTACK:
// When verifying, only HS256 is accepted so a token claiming "none" or an
// asymmetric algorithm is rejected.
func (ti *TokenInspector) Parse(tokenStr string) (Claims, error) {
	c := &accessClaims{}

	if ti.Verifies() {
		_, err := jwt.ParseWithClaims(tokenStr, c,
			func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
				}
				return ti.secret, nil
			},
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithoutClaimsValidation(),
		)
		if err != nil {
			return Claims{}, fmt.Errorf("auth: invalid token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, c); err != nil {
			return Claims{}, fmt.Errorf("auth: malformed token: %w", err)
		}
	}

	if c.Subject == "" {
		return Claims{}, fmt.Errorf("auth: token has no subject")
	}

	out := Claims{UserID: c.Subject, Email: c.Email}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

// Issue signs an HS256 access token. The backend issues real tokens; this is
// for local development backends and tests.
func (ti *TokenInspector) Issue(userID, email string, ttl time.Duration) (string, error) {
	if !ti.Verifies() {
		return "", errors.New("auth: cannot issue tokens without a secret")
	}

	now := time.Now()
	c := accessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}
