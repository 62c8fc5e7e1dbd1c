package jwtx

import (
	"fmt"
	"slices"
	"time"
)

// DefaultExpiryWarning is how close to expiry a token may be before
// Validate reports an "expiring soon" warning.
const DefaultExpiryWarning = 5 * time.Minute

// requiredClaims must all be present for a token to validate. Missing
// required claims are always errors; advisory claims (sessionId, jti)
// only ever warn. The backend is ambiguous about this split, so the
// client enforces one consistent policy.
var requiredClaims = []string{"iss", "sub", "aud", "iat", "exp"}

// Validation is the outcome of a full token check. Errors make the
// token unusable; warnings inform debugging without blocking use.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks token structure and claim content. The zero value
// is usable: current time, DefaultExpiryWarning, no role allow-list.
type Validator struct {
	// Now overrides the clock, mainly for tests.
	Now func() time.Time

	// ExpiryWarning is the "expiring soon" window. Zero means
	// DefaultExpiryWarning.
	ExpiryWarning time.Duration

	// KnownRoles, when non-empty, makes an unrecognised role claim a
	// warning (never an error).
	KnownRoles []string
}

// Validate decodes and checks token. Structural failures yield a
// single error; otherwise required-claim presence, expiry and
// not-before are checked, plus advisory warnings.
func (v *Validator) Validate(token string) Validation {
	claims := Decode(token)
	if claims == nil {
		return Validation{Errors: []string{"malformed token: cannot decode claims"}}
	}

	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now()
	}

	warnWindow := v.ExpiryWarning
	if warnWindow <= 0 {
		warnWindow = DefaultExpiryWarning
	}

	var out Validation

	for _, name := range requiredClaims {
		if !claimPresent(claims, name) {
			out.Errors = append(out.Errors, fmt.Sprintf("missing required claim %q", name))
		}
	}

	if exp, ok := claims.ExpiresTime(); ok {
		switch {
		case !exp.After(now):
			out.Errors = append(out.Errors, fmt.Sprintf("token expired at %s", exp.UTC().Format(time.RFC3339)))
		case !exp.After(now.Add(warnWindow)):
			out.Warnings = append(out.Warnings, fmt.Sprintf("token expires soon, at %s", exp.UTC().Format(time.RFC3339)))
		}
	}

	if claims.NotBefore != nil && claims.NotBefore.After(now) {
		out.Errors = append(out.Errors, fmt.Sprintf("token not valid before %s", claims.NotBefore.UTC().Format(time.RFC3339)))
	}

	// Advisory checks only: never block usability.
	if len(v.KnownRoles) > 0 && claims.Role != "" && !slices.Contains(v.KnownRoles, claims.Role) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("unknown role %q", claims.Role))
	}
	if claims.SessionID == "" {
		out.Warnings = append(out.Warnings, "missing sessionId claim")
	}
	if claims.ID == "" {
		out.Warnings = append(out.Warnings, "missing jti claim")
	}

	out.Valid = len(out.Errors) == 0
	return out
}

func claimPresent(c *Claims, name string) bool {
	switch name {
	case "iss":
		return c.Issuer != ""
	case "sub":
		return c.Subject != ""
	case "aud":
		return len(c.Audience) > 0
	case "iat":
		return c.IssuedAt != nil
	case "exp":
		return c.ExpiresAt != nil
	case "nbf":
		return c.NotBefore != nil
	default:
		return false
	}
}
