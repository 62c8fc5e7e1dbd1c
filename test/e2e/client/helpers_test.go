package client_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

/*
 * A complete in-process fake of the demo auth backend, enough to run
 * the SDK through the whole session lifecycle: login, refresh with
 * rotation, bearer-protected userinfo, logout. Tokens are HS256 JWTs
 * with the backend's claim shape; refresh tokens are one-shot.
 */

const (
	demoEmail    = "customer@example.com"
	demoPassword = "Customer123!"
	demoClientID = "sfd-demo"
)

type fakeBackend struct {
	t *testing.T

	mu           sync.Mutex
	accessTTL    time.Duration
	sessionSeq   int
	validAccess  map[string]bool
	validRefresh map[string]bool
	refreshCalls int
}

func newFakeBackend(t *testing.T, accessTTL time.Duration) *fakeBackend {
	return &fakeBackend{
		t:            t,
		accessTTL:    accessTTL,
		validAccess:  make(map[string]bool),
		validRefresh: make(map[string]bool),
	}
}

func (b *fakeBackend) start() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", b.handleLogin)
	mux.HandleFunc("/auth/refresh", b.handleRefresh)
	mux.HandleFunc("/auth/logout", b.handleLogout)
	mux.HandleFunc("/auth/logout-all", b.handleLogoutAll)
	mux.HandleFunc("/oauth2/userinfo", b.handleUserInfo)

	server := httptest.NewServer(mux)
	b.t.Cleanup(server.Close)
	return server
}

// mintTokens issues a fresh access/refresh pair, invalidating nothing.
func (b *fakeBackend) mintTokens(sessionID string) (access, refresh string) {
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":       "sfd-auth-demo",
		"sub":       "1",
		"aud":       demoClientID,
		"iat":       now.Unix(),
		"exp":       now.Add(b.accessTTL).Unix(),
		"jti":       "jti-" + sessionID,
		"sessionId": sessionID,
		"role":      "customer",
	})
	access, err := token.SignedString([]byte("e2e-secret"))
	require.NoError(b.t, err)

	refresh = "refresh-" + sessionID
	b.validAccess[access] = true
	b.validRefresh[refresh] = true
	return access, refresh
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		ClientID string `json:"clientId"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

	if req.Email != demoEmail || req.Password != demoPassword || req.ClientID != demoClientID {
		writeJSON(b.t, w, http.StatusUnauthorized, map[string]any{
			"success": false, "error": "invalid_grant", "message": "invalid credentials",
		})
		return
	}

	b.mu.Lock()
	b.sessionSeq++
	sessionID := sessionName(b.sessionSeq)
	access, refresh := b.mintTokens(sessionID)
	b.mu.Unlock()

	writeJSON(b.t, w, http.StatusOK, map[string]any{
		"success":       true,
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(b.accessTTL.Seconds()),
		"session": map[string]any{
			"sessionId": sessionID,
			"issuedAt":  time.Now().UTC(),
		},
		"user": map[string]any{
			"id":     1,
			"email":  demoEmail,
			"name":   "Demo Customer",
			"role":   "customer",
			"scopes": []string{"orders:read", "profile:read"},
		},
	})
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"clientId"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshCalls++

	if !b.validRefresh[req.RefreshToken] {
		writeJSON(b.t, w, http.StatusUnauthorized, map[string]any{
			"success": false, "error": "invalid_grant", "message": "refresh token revoked",
		})
		return
	}

	// One-shot rotation: the presented refresh token dies here.
	delete(b.validRefresh, req.RefreshToken)

	b.sessionSeq++
	access, refresh := b.mintTokens(sessionName(b.sessionSeq))

	writeJSON(b.t, w, http.StatusOK, map[string]any{
		"success":       true,
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(b.accessTTL.Seconds()),
	})
}

func (b *fakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

	b.mu.Lock()
	delete(b.validAccess, req.AccessToken)
	delete(b.validRefresh, req.RefreshToken)
	b.mu.Unlock()

	writeJSON(b.t, w, http.StatusOK, map[string]any{"success": true})
}

func (b *fakeBackend) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.validAccess = make(map[string]bool)
	b.validRefresh = make(map[string]bool)
	b.mu.Unlock()

	writeJSON(b.t, w, http.StatusOK, map[string]any{"success": true})
}

func (b *fakeBackend) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)

	b.mu.Lock()
	valid := ok && b.validAccess[token]
	b.mu.Unlock()

	if !valid {
		writeJSON(b.t, w, http.StatusUnauthorized, map[string]any{
			"success": false, "error": "invalid_token",
		})
		return
	}

	writeJSON(b.t, w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":     1,
			"email":  demoEmail,
			"name":   "Demo Customer",
			"role":   "customer",
			"scopes": []string{"orders:read", "profile:read"},
		},
	})
}

// invalidateAccessTokens simulates server-side access token revocation
// without touching refresh tokens, forcing the 401-refresh-retry path.
func (b *fakeBackend) invalidateAccessTokens() {
	b.mu.Lock()
	b.validAccess = make(map[string]bool)
	b.mu.Unlock()
}

func (b *fakeBackend) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func sessionName(seq int) string {
	return fmt.Sprintf("sess-%d", seq)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
