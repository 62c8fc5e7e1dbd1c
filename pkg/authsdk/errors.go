package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrInvalidToken reports a token with malformed structure or an
	// unparsable payload.
	ErrInvalidToken = errors.New("authsdk: invalid token")

	// ErrExpiredToken reports a structurally valid token past its exp.
	ErrExpiredToken = errors.New("authsdk: token expired")

	// ErrRefreshFailed reports that the refresh endpoint rejected the
	// refresh token or was unreachable. Refresh tokens are one-shot,
	// so this is terminal for the session: the store is always cleared
	// before the error surfaces.
	ErrRefreshFailed = errors.New("authsdk: token refresh failed")

	// ErrRefreshSuperseded reports that a refresh completed but its
	// result was discarded because the session changed (cleared or
	// replaced) while the request was in flight.
	ErrRefreshSuperseded = errors.New("authsdk: refresh superseded by concurrent session change")

	// ErrAuthenticationFailed reports a 401 that survived one
	// refresh-and-retry cycle, or a 401 with no refresh token to fall
	// back on. The session is cleared before this surfaces.
	ErrAuthenticationFailed = errors.New("authsdk: authentication failed")

	// ErrNoAuthorizationInProgress reports an ExchangeCode call with no
	// persisted PKCE round-trip to complete.
	ErrNoAuthorizationInProgress = errors.New("authsdk: no authorization flow in progress")

	// ErrStateMismatch reports a callback state parameter that does not
	// match the one issued when the flow began.
	ErrStateMismatch = errors.New("authsdk: authorization state mismatch")
)

// ============================================================================
// HTTPError - non-2xx, non-retried responses
// ============================================================================

// HTTPError is a non-2xx backend response that is not handled by the
// 401 refresh-and-retry cycle. Message carries the server-supplied
// description when present, else a status-specific default.
type HTTPError struct {
	// StatusCode is the HTTP status of the response
	StatusCode int

	// Code is the machine-readable error code from the body, if any
	Code string

	// Message is human-readable; never empty
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authsdk: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("authsdk: HTTP %d: %s", e.StatusCode, e.Message)
}

// statusMessage returns the default human-readable message for a
// status code, used when the server body carries no message of its own.
func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request was malformed or missing required parameters"
	case http.StatusUnauthorized:
		return "authentication is required or the credential was rejected"
	case http.StatusForbidden:
		return "the credential does not grant access to this resource"
	case http.StatusNotFound:
		return "the requested resource does not exist"
	case http.StatusConflict:
		return "the request conflicts with the current server state"
	case http.StatusTooManyRequests:
		return "too many requests, slow down"
	case http.StatusInternalServerError:
		return "the server encountered an internal error"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "the server is temporarily unavailable"
	default:
		if text := http.StatusText(status); text != "" {
			return strings.ToLower(text)
		}
		return "unexpected response"
	}
}

// ============================================================================
// NetworkError - transport-level failures
// ============================================================================

// NetworkError is a transport-level failure (connection refused, DNS,
// timeout), kept distinct from HTTP-level errors so callers can tell
// "the server said no" apart from "the server never answered".
type NetworkError struct {
	// Op is the request method and path being attempted
	Op string

	// Err is the underlying transport error
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("authsdk: network error during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the transport error for errors.Is/As checks.
func (e *NetworkError) Unwrap() error { return e.Err }

// ============================================================================
// PKCEValidationError - verifier/challenge failures
// ============================================================================

// PKCEValidationError reports PKCE material that failed a shape or
// challenge check before any network call was made.
type PKCEValidationError struct {
	// Reason summarises the failure
	Reason string

	// Details carries per-check messages when a shape validation failed
	Details []string
}

// Error implements the error interface.
func (e *PKCEValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("authsdk: pkce validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("authsdk: pkce validation failed: %s (%s)", e.Reason, strings.Join(e.Details, "; "))
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// apiErrorBody covers the error shapes the demo backend produces: the
// envelope form {success:false, error, message} and the OAuth2 form
// {error, error_description}.
type apiErrorBody struct {
	Success          *bool  `json:"success,omitempty"`
	Code             string `json:"error,omitempty"`
	Message          string `json:"message,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// parseErrorResponse turns a non-2xx response into a typed *HTTPError,
// preserving any server-supplied code and message. Returns nil for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode}

	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil {
		httpErr.Code = apiErr.Code
		switch {
		case apiErr.Message != "":
			httpErr.Message = apiErr.Message
		case apiErr.ErrorDescription != "":
			httpErr.Message = apiErr.ErrorDescription
		}
	}

	if httpErr.Message == "" {
		httpErr.Message = statusMessage(resp.StatusCode)
	}

	return httpErr
}
