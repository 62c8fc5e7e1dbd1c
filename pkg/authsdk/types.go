package authsdk

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/pkce"
)

// ============================================================================
// Session Types
// ============================================================================

// User is the authenticated account as reported by the backend. The
// store requires a user alongside the access token before it considers
// the session authenticated.
type User struct {
	// ID is the backend's numeric user identifier
	ID int64 `json:"id"`

	// Email is the login email address
	Email string `json:"email,omitempty"`

	// Name is the user's display name
	Name string `json:"name,omitempty"`

	// Role is the user's role name ("admin", "customer", ...)
	Role string `json:"role,omitempty"`

	// Scopes granted to the user, e.g. ["orders:read", "profile:write"]
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the user was granted the given scope.
func (u *User) HasScope(scope string) bool {
	return u != nil && slices.Contains(u.Scopes, scope)
}

// Session is the backend session metadata. It is replaced wholesale on
// every login and refresh, never mutated field by field.
type Session struct {
	// ID is the server-side session identifier
	ID string `json:"sessionId"`

	// IssuedAt is when the session was established
	IssuedAt time.Time `json:"issuedAt"`

	// LastRefreshedAt is when the tokens were last renewed
	LastRefreshedAt time.Time `json:"lastRefreshedAt,omitempty"`
}

// TokenUpdate carries one atomic replacement of the stored tokens.
// AccessToken is mandatory. A zero ExpiresIn means the expiry is
// derived from the access token's exp claim. Empty RefreshToken,
// nil Session or nil User retain the current value, which covers
// backends that do not rotate the refresh token or omit the user from
// refresh responses.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    time.Duration
	Session      *Session
	User         *User
}

// TokenSnapshot is a point-in-time copy of the stored token pair.
type TokenSnapshot struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Generation   uint64
}

// ExpirationInfo answers "how long does the current access token
// live" questions for UI layers and the refresh scheduler.
type ExpirationInfo struct {
	ExpiresAt       time.Time
	IssuedAt        time.Time
	TimeUntilExpiry time.Duration
	TimeSinceIssued time.Duration
	IsExpired       bool
}

// ============================================================================
// Wire Types (decoded at the boundary, per endpoint)
// ============================================================================

// envelope is the backend's generic {success, data} wrapper used by
// the /oauth2/* endpoints. Error fields are parsed separately by
// parseErrorResponse.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"clientId"`
}

type loginResponse struct {
	Success      bool     `json:"success"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	Session      *Session `json:"session,omitempty"`
	User         *User    `json:"user,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"clientId"`
}

type refreshResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	User         *User  `json:"user,omitempty"`
}

type logoutRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AuthorizationData is the payload of GET /oauth2/authorize.
type AuthorizationData struct {
	AuthorizationURL string   `json:"authorizationUrl"`
	State            string   `json:"state"`
	Nonce            string   `json:"nonce"`
	PKCE             PKCEInfo `json:"pkce"`
}

// PKCEInfo advertises whether the backend pre-generated PKCE material
// for this authorization round-trip.
type PKCEInfo struct {
	Enabled       bool   `json:"enabled"`
	CodeVerifier  string `json:"codeVerifier,omitempty"`
	CodeChallenge string `json:"codeChallenge,omitempty"`
}

type tokenExchangeRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"clientId,omitempty"`
}

// tokenExchangeData is the data payload of POST /oauth2/token.
type tokenExchangeData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
}

type oauthRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// oauthRefreshData is the data payload of POST /oauth2/refresh. This
// endpoint renews the access token only; the refresh token is retained.
type oauthRefreshData struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// pkceData is the short-lived keyring entry covering one authorization
// round-trip. It survives a client restart between BeginAuthorization
// and ExchangeCode (the redirect analog) and is deleted synchronously
// once the code is exchanged or the flow abandoned.
type pkceData struct {
	CodeVerifier  string      `json:"codeVerifier"`
	CodeChallenge string      `json:"codeChallenge"`
	Method        pkce.Method `json:"method"`
	State         string      `json:"state"`
	Nonce         string      `json:"nonce"`
}
