// Package pkce implements the Proof Key for Code Exchange protocol
// (RFC 7636): generating code verifiers, deriving code challenges and
// verifying verifier/challenge pairs before an authorization code is
// exchanged for tokens.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Verifier length bounds per RFC 7636 §4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultVerifierLength is the maximum allowed length. Longer
	// verifiers carry more entropy at no extra cost.
	DefaultVerifierLength = 128

	// RecommendedVerifierLength is the floor below which ValidateVerifier
	// emits a warning. Shorter verifiers are still RFC-valid.
	RecommendedVerifierLength = 64
)

// verifierAlphabet is a 64-character subset of the RFC 3986 unreserved
// set [A-Za-z0-9-._~]. Being exactly 64 characters, mapping a random
// byte with modulo 64 is uniform.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-."

// Method identifies the code challenge transformation.
type Method string

const (
	// MethodS256 derives the challenge as BASE64URL(SHA256(verifier)).
	MethodS256 Method = "S256"

	// MethodPlain uses the verifier itself as the challenge. Only for
	// clients that cannot compute SHA-256; S256 should be preferred.
	MethodPlain Method = "plain"
)

var (
	// ErrInvalidLength reports a requested verifier length outside [43,128].
	ErrInvalidLength = fmt.Errorf("pkce: verifier length must be between %d and %d", MinVerifierLength, MaxVerifierLength)

	// ErrUnsupportedMethod reports a challenge method other than S256 or plain.
	ErrUnsupportedMethod = fmt.Errorf("pkce: unsupported code challenge method")
)

// ParseMethod maps a wire value ("S256", "plain") onto a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodS256:
		return MethodS256, nil
	case MethodPlain:
		return MethodPlain, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// Pair holds a verifier/challenge pair for one authorization round-trip.
// The verifier stays client-side; the challenge is sent to the
// authorization endpoint. A Pair must be consumed by exactly one token
// exchange and discarded afterwards.
type Pair struct {
	// Verifier is the high-entropy secret kept by the client.
	Verifier string `json:"codeVerifier"`

	// Challenge is the transformed verifier sent to the server.
	Challenge string `json:"codeChallenge"`

	// Method is the transformation used to derive Challenge.
	Method Method `json:"method"`
}

// NewPair generates a fresh verifier of the default length and derives
// its challenge with the given method.
func NewPair(method Method) (*Pair, error) {
	verifier, err := GenerateVerifier(DefaultVerifierLength)
	if err != nil {
		return nil, err
	}

	challenge, err := DeriveChallenge(verifier, method)
	if err != nil {
		return nil, err
	}

	return &Pair{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    method,
	}, nil
}

// GenerateVerifier draws length bytes from a cryptographically secure
// random source and maps each onto the 64-character verifier alphabet.
// Returns ErrInvalidLength when length is outside [43,128].
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", fmt.Errorf("%w, got %d", ErrInvalidLength, length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pkce: failed to read random source: %w", err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		// len(verifierAlphabet) == 64, so the modulo is unbiased.
		out[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}

	return string(out), nil
}

// DeriveChallenge computes the code challenge for verifier. For S256
// this is the base64url encoding (no padding) of the SHA-256 digest of
// the verifier's UTF-8 bytes; for plain it is the verifier unchanged.
func DeriveChallenge(verifier string, method Method) (string, error) {
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Verify recomputes the challenge from verifier and compares it against
// challenge in constant time. The comparison guards an authorization
// code exchange, so the timing of a mismatch must not leak a prefix.
func Verify(verifier, challenge string, method Method) bool {
	derived, err := DeriveChallenge(verifier, method)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}

// Validation is the outcome of a verifier shape check. Errors make the
// verifier unusable; warnings are advisory only.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateVerifier enforces RFC 7636 shape rules on verifier: length in
// [43,128] and membership of every character in the unreserved set.
// Verifiers shorter than RecommendedVerifierLength draw a warning.
func ValidateVerifier(verifier string) Validation {
	var v Validation

	switch {
	case len(verifier) < MinVerifierLength:
		v.Errors = append(v.Errors, fmt.Sprintf("verifier too short: %d characters, minimum is %d", len(verifier), MinVerifierLength))
	case len(verifier) > MaxVerifierLength:
		v.Errors = append(v.Errors, fmt.Sprintf("verifier too long: %d characters, maximum is %d", len(verifier), MaxVerifierLength))
	}

	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			v.Errors = append(v.Errors, fmt.Sprintf("invalid character %q at position %d", verifier[i], i))
		}
	}

	if len(verifier) >= MinVerifierLength && len(verifier) < RecommendedVerifierLength {
		v.Warnings = append(v.Warnings, fmt.Sprintf("verifier has %d characters; %d or more is recommended", len(verifier), RecommendedVerifierLength))
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// isUnreserved reports whether c belongs to the RFC 3986 unreserved set
// allowed in code verifiers: ALPHA / DIGIT / "-" / "." / "_" / "~".
func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for error messages and logging.
func (v Validation) String() string {
	if v.Valid && len(v.Warnings) == 0 {
		return "valid"
	}

	var parts []string
	if len(v.Errors) > 0 {
		parts = append(parts, "errors: "+strings.Join(v.Errors, "; "))
	}
	if len(v.Warnings) > 0 {
		parts = append(parts, "warnings: "+strings.Join(v.Warnings, "; "))
	}
	return strings.Join(parts, " | ")
}
