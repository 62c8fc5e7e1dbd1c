package authsdk

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"
)

// Client talks to the demo auth backend on behalf of one session. It
// owns a TokenStore and a RefreshCoordinator; see the package doc for
// how the pieces fit together.
type Client struct {
	// BaseURL is the backend root, without a trailing slash.
	BaseURL string

	// HTTPClient performs all requests. Its timeout is the only
	// application-level timeout; the SDK does not add another.
	HTTPClient *http.Client

	// ClientID identifies this OAuth2 client to the backend.
	ClientID string

	ring        keyring.Store
	store       *TokenStore
	coordinator *RefreshCoordinator
	logger      *slog.Logger
}

type clientConfig struct {
	httpClient    *http.Client
	logger        *slog.Logger
	bus           *keyring.Broadcaster
	refreshBuffer time.Duration
	refreshFunc   RefreshFunc
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLogger sets the logger for the client and its collaborators.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithBroadcaster attaches a shared change bus so multiple clients
// over the same keyring converge on one session.
func WithBroadcaster(bus *keyring.Broadcaster) ClientOption {
	return func(c *clientConfig) { c.bus = bus }
}

// WithClientRefreshBuffer overrides the proactive refresh buffer.
func WithClientRefreshBuffer(buffer time.Duration) ClientOption {
	return func(c *clientConfig) { c.refreshBuffer = buffer }
}

// WithRefreshFunc replaces the refresh round-trip, mainly for tests.
// The default posts to /auth/refresh.
func WithRefreshFunc(fn RefreshFunc) ClientOption {
	return func(c *clientConfig) { c.refreshFunc = fn }
}

// NewClient builds a client over ring, restoring any session a
// previous run persisted there. Call Close when done to stop the
// refresh scheduler.
func NewClient(ctx context.Context, baseURL, clientID string, ring keyring.Store, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: cfg.httpClient,
		ClientID:   clientID,
		ring:       ring,
		logger:     cfg.logger,
	}

	storeOpts := []StoreOption{WithStoreLogger(cfg.logger)}
	if cfg.bus != nil {
		storeOpts = append(storeOpts, WithStoreBroadcaster(cfg.bus))
	}

	store, err := NewTokenStore(ctx, ring, storeOpts...)
	if err != nil {
		return nil, err
	}
	c.store = store

	refreshFunc := cfg.refreshFunc
	if refreshFunc == nil {
		refreshFunc = c.refreshSession
	}

	coordOpts := []CoordinatorOption{WithCoordinatorLogger(cfg.logger)}
	if cfg.refreshBuffer > 0 {
		coordOpts = append(coordOpts, WithRefreshBuffer(cfg.refreshBuffer))
	}
	c.coordinator = NewRefreshCoordinator(store, refreshFunc, coordOpts...)

	return c, nil
}

// Close stops the refresh scheduler and detaches from the keyring
// broadcaster. The keyring itself stays open, the caller owns it.
func (c *Client) Close() {
	c.coordinator.Stop()
	c.store.Close()
}

// Store exposes the token store for state queries and subscriptions.
func (c *Client) Store() *TokenStore { return c.store }

// Coordinator exposes the refresh coordinator, e.g. for ForceRefresh.
func (c *Client) Coordinator() *RefreshCoordinator { return c.coordinator }

// IsAuthenticated reports whether a usable session is loaded.
func (c *Client) IsAuthenticated() bool { return c.store.IsAuthenticated() }
