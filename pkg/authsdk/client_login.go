package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/jwtx"
)

// Login authenticates with email and password and loads the resulting
// session into the store. The proactive refresh schedule starts as a
// side effect.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out loginResponse
	err := c.Do(ctx, http.MethodPost, "/auth/login", loginRequest{
		Email:    email,
		Password: password,
		ClientID: c.ClientID,
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success || out.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response missing access token", ErrAuthenticationFailed)
	}

	now := time.Now().UTC()
	session := out.Session
	if session == nil {
		session = sessionFromToken(out.AccessToken, now)
	} else if session.IssuedAt.IsZero() {
		session.IssuedAt = now
	}

	err = c.store.SetTokens(ctx, TokenUpdate{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    time.Duration(out.ExpiresIn) * time.Second,
		Session:      session,
		User:         out.User,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("login successful", "email", email)
	return out.User, nil
}

// Logout revokes the current token pair on the backend and clears the
// local session. The local clear happens regardless of the network
// outcome: a dead backend must not leave credentials on disk.
func (c *Client) Logout(ctx context.Context) error {
	snap := c.store.Snapshot()

	var reqErr error
	if snap.AccessToken != "" {
		reqErr = c.Do(ctx, http.MethodPost, "/auth/logout", logoutRequest{
			AccessToken:  snap.AccessToken,
			RefreshToken: snap.RefreshToken,
		}, nil)
	}

	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	if reqErr != nil {
		return fmt.Errorf("session cleared locally, but backend logout failed: %w", reqErr)
	}
	return nil
}

// LogoutAll revokes every session of the current user on the backend,
// then clears the local session. Like Logout, the local clear is
// unconditional.
func (c *Client) LogoutAll(ctx context.Context) error {
	snap := c.store.Snapshot()

	var reqErr error
	if snap.AccessToken != "" {
		reqErr = c.Do(ctx, http.MethodPost, "/auth/logout-all", logoutRequest{
			AccessToken: snap.AccessToken,
		}, nil)
	}

	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	if reqErr != nil {
		return fmt.Errorf("session cleared locally, but backend logout failed: %w", reqErr)
	}
	return nil
}

// refreshSession is the default RefreshFunc: it posts the refresh
// token to /auth/refresh and builds the replacement token set. The
// session metadata is replaced wholesale with the previous identity
// and a fresh LastRefreshedAt.
func (c *Client) refreshSession(ctx context.Context, refreshToken string) (*TokenUpdate, error) {
	var out refreshResponse
	err := c.Do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{
		RefreshToken: refreshToken,
		ClientID:     c.ClientID,
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success || out.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}

	now := time.Now().UTC()
	session := sessionFromToken(out.AccessToken, now)
	if cur := c.store.Session(); cur != nil {
		session.ID = cur.ID
		session.IssuedAt = cur.IssuedAt
	}
	session.LastRefreshedAt = now

	return &TokenUpdate{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    time.Duration(out.ExpiresIn) * time.Second,
		Session:      session,
		User:         out.User,
	}, nil
}

// sessionFromToken builds session metadata from the access token's
// claims, used when the backend response carries no session object.
func sessionFromToken(accessToken string, now time.Time) *Session {
	session := &Session{IssuedAt: now}
	if claims := jwtx.Decode(accessToken); claims != nil {
		session.ID = claims.SessionID
		if iat, ok := claims.IssuedTime(); ok {
			session.IssuedAt = iat.UTC()
		}
	}
	return session
}
