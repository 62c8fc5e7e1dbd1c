// Package keyring is the durable key-value state the auth client
// persists between runs: the token pair, session and user JSON, and
// the short-lived PKCE material for one authorization round-trip.
//
// Concurrent client instances (the browser-tab analog) converge
// through a shared Broadcaster: every write publishes a {key, newValue}
// event, and instances apply foreign events last-write-wins. There is
// no cross-instance locking.
package keyring

import (
	"context"
	"errors"
)

// Well-known keys. The names match the demo backend's documented
// client state layout.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeySessionData  = "sessionData"
	KeyUserData     = "userData"

	// KeyPKCEData holds the serialized PKCE pair plus state and nonce.
	// Scoped to a single authorization round-trip and cleared
	// synchronously after the code exchange or flow abandonment.
	KeyPKCEData = "pkce_data"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("keyring: not found")

// Store is the durable backing for client state. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key to value, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying resources.
	Close() error
}
