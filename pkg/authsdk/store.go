package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/idx"
	"github.com/ricardoahumada/sfd-auth-client/pkg/jwtx"
	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"
)

// StoreEventType classifies a TokenStore notification.
type StoreEventType int

const (
	// EventTokensSet fires after a successful SetTokens.
	EventTokensSet StoreEventType = iota

	// EventCleared fires after Clear wiped the session. UI layers
	// listen for this to redirect to login; the RefreshCoordinator
	// listens to cancel its timer.
	EventCleared

	// EventExternalUpdate fires after the store reloaded state written
	// by another client instance (the multi-tab scenario).
	EventExternalUpdate
)

// StoreEvent is delivered synchronously to subscribers after every
// store mutation, once the mutation is fully applied and persisted.
type StoreEvent struct {
	Type       StoreEventType
	Generation uint64
	ExpiresAt  time.Time
}

// TokenStore owns the current token pair, session metadata and user.
// All mutations are serialized; every mutation bumps a generation
// counter so slow operations (an in-flight refresh) can detect that
// their result became stale before applying it.
//
// State is persisted to a keyring.Store on every mutation and reloaded
// when a shared Broadcaster delivers a change made by another
// instance. Convergence across instances is last-write-wins.
type TokenStore struct {
	ring     keyring.Store
	bus      *keyring.Broadcaster
	origin   idx.ID
	logger   *slog.Logger
	unsubBus func()

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	idToken      string
	expiresAt    time.Time
	issuedAt     time.Time
	session      *Session
	user         *User
	generation   uint64

	subMu   sync.RWMutex
	subs    map[int]func(StoreEvent)
	nextSub int
}

// StoreOption configures a TokenStore.
type StoreOption func(*TokenStore)

// WithStoreBroadcaster attaches a shared change bus. Stores sharing a
// broadcaster and a keyring converge on the same session state.
func WithStoreBroadcaster(bus *keyring.Broadcaster) StoreOption {
	return func(s *TokenStore) { s.bus = bus }
}

// WithStoreLogger sets the logger. Defaults to slog.Default.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *TokenStore) { s.logger = logger }
}

// NewTokenStore builds a store over ring, loading any session state a
// previous run persisted.
func NewTokenStore(ctx context.Context, ring keyring.Store, opts ...StoreOption) (*TokenStore, error) {
	s := &TokenStore{
		ring:   ring,
		origin: idx.New(),
		logger: slog.Default(),
		subs:   make(map[int]func(StoreEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}

	if s.bus != nil {
		s.unsubBus = s.bus.Subscribe(s.onBroadcast)
	}

	return s, nil
}

// Close detaches the store from its broadcaster. It does not close the
// underlying keyring, which the caller owns.
func (s *TokenStore) Close() {
	if s.unsubBus != nil {
		s.unsubBus()
	}
}

// Subscribe registers fn for every subsequent store event. Delivery is
// synchronous, after the mutation is applied. The returned cancel
// removes the subscription.
func (s *TokenStore) Subscribe(fn func(StoreEvent)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *TokenStore) notify(ev StoreEvent) {
	s.subMu.RLock()
	fns := make([]func(StoreEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SetTokens atomically replaces the stored tokens, session and user,
// persists them, and notifies subscribers. The expiry is taken from
// upd.ExpiresIn when positive, else derived from the access token's
// exp claim; it is never left stale relative to the token it describes.
func (s *TokenStore) SetTokens(ctx context.Context, upd TokenUpdate) error {
	_, err := s.setTokens(ctx, upd, nil)
	return err
}

// SetTokensIfGeneration applies upd only if the store's generation
// still equals expected. It returns false when the store changed in
// the meantime, which is how a completed-but-stale refresh result is
// discarded.
func (s *TokenStore) SetTokensIfGeneration(ctx context.Context, expected uint64, upd TokenUpdate) (bool, error) {
	return s.setTokens(ctx, upd, &expected)
}

func (s *TokenStore) setTokens(ctx context.Context, upd TokenUpdate, expected *uint64) (bool, error) {
	if upd.AccessToken == "" {
		return false, fmt.Errorf("%w: missing access token", ErrInvalidToken)
	}

	now := time.Now().UTC()
	claims := jwtx.Decode(upd.AccessToken)

	var expiresAt time.Time
	if upd.ExpiresIn > 0 {
		expiresAt = now.Add(upd.ExpiresIn)
	} else if claims != nil {
		if exp, ok := claims.ExpiresTime(); ok {
			expiresAt = exp.UTC()
		}
	}

	issuedAt := now
	if claims != nil {
		if iat, ok := claims.IssuedTime(); ok {
			issuedAt = iat.UTC()
		}
	}

	s.mu.Lock()
	if expected != nil && s.generation != *expected {
		s.mu.Unlock()
		return false, nil
	}

	refreshToken := s.refreshToken
	if upd.RefreshToken != "" {
		refreshToken = upd.RefreshToken
	}
	session := s.session
	if upd.Session != nil {
		session = upd.Session
	}
	user := s.user
	if upd.User != nil {
		user = upd.User
	}

	if err := s.persist(ctx, upd.AccessToken, refreshToken, session, user); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("failed to persist session: %w", err)
	}

	s.accessToken = upd.AccessToken
	s.refreshToken = refreshToken
	s.idToken = upd.IDToken
	s.expiresAt = expiresAt
	s.issuedAt = issuedAt
	s.session = session
	s.user = user
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.publish(keyring.KeyAccessToken, upd.AccessToken)
	s.publish(keyring.KeyRefreshToken, refreshToken)

	s.logger.Debug("tokens updated",
		"generation", gen,
		"expires_at", expiresAt,
	)

	s.notify(StoreEvent{Type: EventTokensSet, Generation: gen, ExpiresAt: expiresAt})
	return true, nil
}

// Clear wipes the in-memory and persisted session. Subscribers receive
// EventCleared, which cancels any scheduled refresh.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	// KeyPKCEData goes too: a logout mid-authorization must not leave
	// the code verifier behind.
	for _, key := range []string{keyring.KeyAccessToken, keyring.KeyRefreshToken, keyring.KeySessionData, keyring.KeyUserData, keyring.KeyPKCEData} {
		if err := s.ring.Delete(ctx, key); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to clear persisted session: %w", err)
		}
	}

	s.accessToken = ""
	s.refreshToken = ""
	s.idToken = ""
	s.expiresAt = time.Time{}
	s.issuedAt = time.Time{}
	s.session = nil
	s.user = nil
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.publish(keyring.KeyAccessToken, "")
	s.publish(keyring.KeyRefreshToken, "")

	s.logger.Debug("session cleared", "generation", gen)

	s.notify(StoreEvent{Type: EventCleared, Generation: gen})
	return nil
}

// IsAuthenticated reports whether the session is usable: both an
// access token and a user must be present. A token alone is not
// sufficient, the user object is what the rest of the client keys off.
func (s *TokenStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != "" && s.user != nil
}

// AccessToken returns the current access token, or "".
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// IDToken returns the OIDC id token from the last code exchange, or "".
func (s *TokenStore) IDToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idToken
}

// User returns the current user, or nil.
func (s *TokenStore) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Session returns the current session metadata, or nil.
func (s *TokenStore) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Generation returns the mutation counter. Capture it before a slow
// operation and use SetTokensIfGeneration to apply the result.
func (s *TokenStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Snapshot returns a point-in-time copy of the token state.
func (s *TokenStore) Snapshot() TokenSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TokenSnapshot{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		IDToken:      s.idToken,
		ExpiresAt:    s.expiresAt,
		Generation:   s.generation,
	}
}

// ExpirationInfo describes the current access token's lifetime. The
// second return is false when there is no token or its expiry could
// not be determined.
func (s *TokenStore) ExpirationInfo() (ExpirationInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.accessToken == "" || s.expiresAt.IsZero() {
		return ExpirationInfo{}, false
	}

	now := time.Now().UTC()
	return ExpirationInfo{
		ExpiresAt:       s.expiresAt,
		IssuedAt:        s.issuedAt,
		TimeUntilExpiry: s.expiresAt.Sub(now),
		TimeSinceIssued: now.Sub(s.issuedAt),
		IsExpired:       !s.expiresAt.After(now),
	}, true
}

// persist writes the session to the keyring. Called with mu held so
// writes never interleave with another mutation.
func (s *TokenStore) persist(ctx context.Context, access, refresh string, session *Session, user *User) error {
	if err := s.ring.Set(ctx, keyring.KeyAccessToken, access); err != nil {
		return err
	}
	if err := s.ring.Set(ctx, keyring.KeyRefreshToken, refresh); err != nil {
		return err
	}

	if session != nil {
		raw, err := json.Marshal(session)
		if err != nil {
			return err
		}
		if err := s.ring.Set(ctx, keyring.KeySessionData, string(raw)); err != nil {
			return err
		}
	}

	if user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := s.ring.Set(ctx, keyring.KeyUserData, string(raw)); err != nil {
			return err
		}
	}

	return nil
}

// load reads persisted state back into memory. Expiry is rederived
// from the access token's claims: an expires_in captured by a previous
// process is not persisted, the exp claim is the durable source.
func (s *TokenStore) load(ctx context.Context) error {
	access, err := s.getOrEmpty(ctx, keyring.KeyAccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.getOrEmpty(ctx, keyring.KeyRefreshToken)
	if err != nil {
		return err
	}

	var session *Session
	if raw, err := s.getOrEmpty(ctx, keyring.KeySessionData); err != nil {
		return err
	} else if raw != "" {
		session = &Session{}
		if err := json.Unmarshal([]byte(raw), session); err != nil {
			s.logger.Warn("discarding corrupt persisted session metadata", "error", err)
			session = nil
		}
	}

	var user *User
	if raw, err := s.getOrEmpty(ctx, keyring.KeyUserData); err != nil {
		return err
	} else if raw != "" {
		user = &User{}
		if err := json.Unmarshal([]byte(raw), user); err != nil {
			s.logger.Warn("discarding corrupt persisted user", "error", err)
			user = nil
		}
	}

	var expiresAt, issuedAt time.Time
	if claims := jwtx.Decode(access); claims != nil {
		if exp, ok := claims.ExpiresTime(); ok {
			expiresAt = exp.UTC()
		}
		if iat, ok := claims.IssuedTime(); ok {
			issuedAt = iat.UTC()
		}
	}

	s.mu.Lock()
	s.accessToken = access
	s.refreshToken = refresh
	s.expiresAt = expiresAt
	s.issuedAt = issuedAt
	s.session = session
	s.user = user
	s.mu.Unlock()

	return nil
}

func (s *TokenStore) getOrEmpty(ctx context.Context, key string) (string, error) {
	v, err := s.ring.Get(ctx, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// publish announces a key change on the shared bus, tagged with this
// store's origin so it can skip its own events.
func (s *TokenStore) publish(key, value string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(keyring.Event{Key: key, NewValue: value, Origin: s.origin})
}

// onBroadcast applies a change made by another instance: the keyring
// is the shared source of truth, so the whole session is reloaded.
// Last writer wins; there is no merge.
func (s *TokenStore) onBroadcast(ev keyring.Event) {
	if ev.Origin == s.origin {
		return
	}

	if err := s.load(context.Background()); err != nil {
		s.logger.Warn("failed to reload session after external change", "error", err)
		return
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	expiresAt := s.expiresAt
	s.mu.Unlock()

	s.logger.Debug("session reloaded after external change",
		"key", ev.Key,
		"generation", gen,
	)

	s.notify(StoreEvent{Type: EventExternalUpdate, Generation: gen, ExpiresAt: expiresAt})
}
