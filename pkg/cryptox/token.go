// Package cryptox holds the small crypto helpers the auth client
// needs: opaque random tokens (state, nonce), token fingerprints for
// log-safe references, and at-rest sealing of persisted credentials.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	// Enough for CSRF state parameters.
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

// GenerateToken creates a cryptographically secure random token of the
// given byte length, base64url-encoded without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewState returns a random OAuth2 state parameter (128 bits).
func NewState() (string, error) {
	return GenerateToken(TokenSize128)
}

// NewNonce returns a random OIDC nonce (128 bits).
func NewNonce() (string, error) {
	return GenerateToken(TokenSize128)
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a
// token, base64url-encoded. Log fingerprints instead of raw tokens so
// two log lines can be correlated without leaking the credential.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
