package authsdk

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/cryptox"
	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"
	"github.com/ricardoahumada/sfd-auth-client/pkg/pkce"
)

// AuthorizationFlow is the client-visible half of a started
// authorization round-trip: where to send the user, and the state and
// nonce to expect back. The code verifier stays in the keyring.
type AuthorizationFlow struct {
	AuthorizationURL string
	State            string
	Nonce            string
}

// BeginAuthorization starts one PKCE authorization round-trip. It asks
// the backend for authorization parameters, generates (or adopts and
// re-verifies) the PKCE pair, persists the flow material under the
// pkce_data key so it survives the redirect, and returns the URL to
// send the user to.
//
// A round-trip already in progress is replaced: its pair was never
// consumed, so discarding it is safe.
func (c *Client) BeginAuthorization(ctx context.Context) (*AuthorizationFlow, error) {
	var env envelope
	if err := c.Do(ctx, http.MethodGet, "/oauth2/authorize", nil, &env); err != nil {
		return nil, err
	}

	var data AuthorizationData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode authorization data: %w", err)
		}
	}

	pair, err := adoptOrGeneratePair(data.PKCE)
	if err != nil {
		return nil, err
	}

	state := data.State
	if state == "" {
		if state, err = cryptox.NewState(); err != nil {
			return nil, err
		}
	}
	nonce := data.Nonce
	if nonce == "" {
		if nonce, err = cryptox.NewNonce(); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(pkceData{
		CodeVerifier:  pair.Verifier,
		CodeChallenge: pair.Challenge,
		Method:        pair.Method,
		State:         state,
		Nonce:         nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow state: %w", err)
	}
	if err := c.ring.Set(ctx, keyring.KeyPKCEData, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to persist flow state: %w", err)
	}

	authorizationURL := data.AuthorizationURL
	if authorizationURL == "" {
		authorizationURL = c.buildAuthorizeURL(pair, state, nonce)
	}

	c.logger.Debug("authorization flow started", "state", state)

	return &AuthorizationFlow{
		AuthorizationURL: authorizationURL,
		State:            state,
		Nonce:            nonce,
	}, nil
}

// adoptOrGeneratePair takes the backend's pre-generated PKCE material
// when offered, re-checking its shape and challenge before trusting
// it, and otherwise generates a fresh S256 pair locally.
func adoptOrGeneratePair(info PKCEInfo) (*pkce.Pair, error) {
	if !info.Enabled || info.CodeVerifier == "" {
		return pkce.NewPair(pkce.MethodS256)
	}

	if v := pkce.ValidateVerifier(info.CodeVerifier); !v.Valid {
		return nil, &PKCEValidationError{
			Reason:  "server-supplied verifier has invalid shape",
			Details: v.Errors,
		}
	}
	if !pkce.Verify(info.CodeVerifier, info.CodeChallenge, pkce.MethodS256) {
		return nil, &PKCEValidationError{
			Reason: "server-supplied challenge does not match verifier",
		}
	}

	return &pkce.Pair{
		Verifier:  info.CodeVerifier,
		Challenge: info.CodeChallenge,
		Method:    pkce.MethodS256,
	}, nil
}

// buildAuthorizeURL constructs the authorization URL locally when the
// backend did not supply one.
func (c *Client) buildAuthorizeURL(pair *pkce.Pair, state, nonce string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.ClientID)
	params.Set("state", state)
	params.Set("nonce", nonce)
	params.Set("code_challenge", pair.Challenge)
	params.Set("code_challenge_method", string(pair.Method))
	return fmt.Sprintf("%s/oauth2/authorize?%s", c.BaseURL, params.Encode())
}

// ExchangeCode completes the round-trip started by BeginAuthorization,
// trading the authorization code for tokens. Before anything touches
// the network the callback state must match the persisted one and the
// persisted PKCE pair must verify; a tampered verifier rejects the
// exchange locally.
//
// The pair is consumed by exactly one exchange: the pkce_data entry is
// deleted synchronously once the exchange returns, success or not.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (*User, error) {
	raw, err := c.ring.Get(ctx, keyring.KeyPKCEData)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoAuthorizationInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow state: %w", err)
	}

	var flow pkceData
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		c.abandonFlow(ctx)
		return nil, fmt.Errorf("corrupt flow state: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(state), []byte(flow.State)) != 1 {
		c.abandonFlow(ctx)
		return nil, ErrStateMismatch
	}

	if v := pkce.ValidateVerifier(flow.CodeVerifier); !v.Valid {
		c.abandonFlow(ctx)
		return nil, &PKCEValidationError{Reason: "stored verifier has invalid shape", Details: v.Errors}
	}
	if !pkce.Verify(flow.CodeVerifier, flow.CodeChallenge, flow.Method) {
		c.abandonFlow(ctx)
		return nil, &PKCEValidationError{Reason: "verifier does not match stored challenge"}
	}

	var env envelope
	err = c.Do(ctx, http.MethodPost, "/oauth2/token", tokenExchangeRequest{
		Code:         code,
		State:        state,
		CodeVerifier: flow.CodeVerifier,
		ClientID:     c.ClientID,
	}, &env)

	// One-shot either way: a rejected code is just as consumed as an
	// accepted one.
	c.abandonFlow(ctx)

	if err != nil {
		return nil, err
	}

	var data tokenExchangeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchange response missing access token", ErrAuthenticationFailed)
	}

	// Fetch the profile before committing, so the session lands in the
	// store complete. A userinfo failure is non-fatal: the tokens are
	// still good, the caller can retry UserInfo later.
	user, err := c.fetchUserInfo(ctx, data.AccessToken)
	if err != nil {
		c.logger.Warn("userinfo fetch after code exchange failed", "error", err)
		user = nil
	}

	now := time.Now().UTC()
	err = c.store.SetTokens(ctx, TokenUpdate{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		IDToken:      data.IDToken,
		ExpiresIn:    time.Duration(data.ExpiresIn) * time.Second,
		Session:      sessionFromToken(data.AccessToken, now),
		User:         user,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("authorization code exchanged")
	return user, nil
}

// AbandonAuthorization discards an in-progress authorization
// round-trip, destroying its PKCE pair. Abandoning with no flow in
// progress is not an error.
func (c *Client) AbandonAuthorization(ctx context.Context) error {
	return c.ring.Delete(ctx, keyring.KeyPKCEData)
}

func (c *Client) abandonFlow(ctx context.Context) {
	if err := c.ring.Delete(ctx, keyring.KeyPKCEData); err != nil {
		c.logger.Error("failed to clear flow state", "error", err)
	}
}

// RefreshOAuth2Token renews the access token of a code-exchange
// session via /oauth2/refresh. Unlike /auth/refresh this endpoint does
// not rotate the refresh token, so the stored one is retained.
func (c *Client) RefreshOAuth2Token(ctx context.Context, refreshToken string) (*TokenUpdate, error) {
	var env envelope
	err := c.Do(ctx, http.MethodPost, "/oauth2/refresh", oauthRefreshRequest{
		RefreshToken: refreshToken,
	}, &env)
	if err != nil {
		return nil, err
	}

	var data oauthRefreshData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}

	now := time.Now().UTC()
	session := sessionFromToken(data.AccessToken, now)
	if cur := c.store.Session(); cur != nil {
		session.ID = cur.ID
		session.IssuedAt = cur.IssuedAt
	}
	session.LastRefreshedAt = now

	return &TokenUpdate{
		AccessToken: data.AccessToken,
		ExpiresIn:   time.Duration(data.ExpiresIn) * time.Second,
		Session:     session,
	}, nil
}
