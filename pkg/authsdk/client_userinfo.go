package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// UserInfo fetches the authenticated user's profile. The request goes
// through Do, so an expired access token is refreshed transparently.
func (c *Client) UserInfo(ctx context.Context) (*User, error) {
	var env envelope
	if err := c.Do(ctx, http.MethodGet, "/oauth2/userinfo", nil, &env); err != nil {
		return nil, err
	}
	return decodeUserInfo(env.Data)
}

// fetchUserInfo performs a userinfo request with an explicit bearer
// token, used during code exchange before the token is committed to
// the store.
func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.send(ctx, http.MethodGet, "/oauth2/userinfo", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := decodeResponse(resp, &env); err != nil {
		return nil, err
	}
	return decodeUserInfo(env.Data)
}

func decodeUserInfo(data json.RawMessage) (*User, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("userinfo response missing profile data")
	}

	user := &User{}
	if err := json.Unmarshal(data, user); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return user, nil
}
