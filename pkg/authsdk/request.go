package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// authEndpoints are the paths of the authentication protocol itself.
// A 401 from one of these means the credential being presented is bad;
// refreshing and retrying would loop, so they are excluded from the
// refresh-and-retry cycle.
var authEndpoints = map[string]bool{
	"/auth/login":       true,
	"/auth/refresh":     true,
	"/oauth2/authorize": true,
	"/oauth2/token":     true,
	"/oauth2/refresh":   true,
}

func isAuthEndpoint(path string) bool {
	return authEndpoints[path]
}

// Do performs one backend request. When the store holds an access
// token it is injected as a bearer credential. A 401 against a
// non-auth endpoint triggers exactly one coordinated refresh followed
// by exactly one retry; a second 401 is terminal: the session is
// cleared and ErrAuthenticationFailed surfaces. All other errors reach
// the caller unchanged.
//
// body is JSON-encoded when non-nil; the response body is decoded into
// out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload, c.store.AccessToken())
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !isAuthEndpoint(path) {
		drain(resp)

		if c.store.RefreshToken() == "" {
			// No way to recover the credential.
			if err := c.store.Clear(ctx); err != nil {
				c.logger.Error("failed to clear session", "error", err)
			}
			return fmt.Errorf("%w: no refresh token available", ErrAuthenticationFailed)
		}

		snap, err := c.coordinator.Refresh(ctx)
		if errors.Is(err, ErrRefreshSuperseded) {
			// The session was replaced mid-flight (another instance got
			// there first); the store already holds the live token, so
			// the retry proceeds with it.
			snap = c.store.Snapshot()
			err = nil
		}
		if err != nil {
			// The coordinator already cleared the session.
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}

		resp, err = c.send(ctx, method, path, payload, snap.AccessToken)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			c.logger.Warn("request rejected again after refresh, clearing session",
				"method", method,
				"path", path,
			)
			if err := c.store.Clear(ctx); err != nil {
				c.logger.Error("failed to clear session", "error", err)
			}
			return fmt.Errorf("%w: request rejected after token refresh", ErrAuthenticationFailed)
		}
	}

	return decodeResponse(resp, out)
}

// BatchRequest is one request within a Batch call.
type BatchRequest struct {
	Method string
	Path   string
	Body   any
}

// BatchResult is the outcome of one BatchRequest. Exactly one of Data
// and Err is meaningful, selected by Success.
type BatchResult struct {
	Success bool
	Data    json.RawMessage
	Err     error
}

// Batch executes a sequence of independent requests, capturing each
// outcome without aborting the batch on a failure. The result slice is
// parallel to reqs.
func (c *Client) Batch(ctx context.Context, reqs []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		var raw json.RawMessage
		if err := c.Do(ctx, req.Method, req.Path, req.Body, &raw); err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		results[i] = BatchResult{Success: true, Data: raw}
	}
	return results
}

// send performs one HTTP round-trip with an explicit bearer token.
// Transport failures come back as *NetworkError.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	return resp, nil
}

// decodeResponse reads the body once, classifies non-2xx responses
// through parseErrorResponse, and decodes success payloads into out.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := parseErrorResponse(resp, body); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// drain discards a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
