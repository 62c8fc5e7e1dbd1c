package authsdk

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testToken mints an HS256 access token with the demo backend's claim
// shape. The SDK never verifies signatures, so the signing key is
// irrelevant; it just has to be a structurally valid JWT.
func testToken(t *testing.T, sessionID string, issuedAt, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":       "sfd-auth-demo",
		"sub":       "1",
		"aud":       "sfd-demo",
		"iat":       issuedAt.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       "jti-" + sessionID,
		"sessionId": sessionID,
		"role":      "customer",
		"scopes":    []string{"orders:read", "profile:read"},
	})

	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// writeJSON writes v as a JSON response body.
func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// testUser is the account most tests authenticate as.
func testUser() *User {
	return &User{
		ID:     1,
		Email:  "customer@example.com",
		Name:   "Demo Customer",
		Role:   "customer",
		Scopes: []string{"orders:read", "profile:read"},
	}
}
