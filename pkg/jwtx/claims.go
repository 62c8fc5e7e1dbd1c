package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims issued by the demo backend. They
// are decoded for client-side introspection only; nothing in this
// package verifies a signature (see package doc in decode.go).
type Claims struct {
	jwt.RegisteredClaims

	/* Custom fields minted by the backend */

	// SessionID ties the token to a server-side session record.
	SessionID string `json:"sessionId,omitempty"`

	// Role is the user's role name ("admin", "customer", ...).
	Role string `json:"role,omitempty"`

	// Scopes the token grants, e.g. ["orders:read", "profile:write"].
	Scopes []string `json:"scopes,omitempty"`
}

// ValidateExpiry ensures the token hasn’t expired (exp) and isn’t used
// before it is valid (nbf). A missing exp or nbf enforces nothing.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	// Check expired (exp)
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	// Check a token isn't used before it is valid (nbf)
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// ExpiresTime returns the exp claim as a time, and whether it was set.
func (c *Claims) ExpiresTime() (time.Time, bool) {
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// IssuedTime returns the iat claim as a time, and whether it was set.
func (c *Claims) IssuedTime() (time.Time, bool) {
	if c.IssuedAt == nil {
		return time.Time{}, false
	}
	return c.IssuedAt.Time, true
}

// HasScope reports whether the token grants the given scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
