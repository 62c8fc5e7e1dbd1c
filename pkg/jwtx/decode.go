// Package jwtx decodes and inspects JWT claims on the client side.
//
// SECURITY: this package performs NO signature verification. It exists
// so the client can answer "is this token present / expiring / what
// role does it carry" without a round-trip. All real token validation
// is the backend's responsibility; never use these helpers as an
// authorization decision.
package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed reports a token that is not three base64url segments
	// with a JSON claims payload.
	ErrMalformed = errors.New("jwtx: malformed token")

	// ErrExpired reports a structurally valid token past its exp claim.
	ErrExpired = errors.New("jwtx: token expired")

	// ErrNotYetValid reports a token used before its nbf claim.
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Decode splits the token on ".", requires exactly three segments,
// base64url-decodes the payload and parses it into Claims. It returns
// nil for any malformed input: callers must treat nil as "cannot
// introspect", not as "invalid or expired".
func Decode(token string) *Claims {
	if token == "" {
		return nil
	}

	claims := &Claims{}
	// ParseUnverified enforces the three-segment structure and decodes
	// header and payload without touching the signature.
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	return claims
}
