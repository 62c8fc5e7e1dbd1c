package authsdk

import (
	"context"
	"testing"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) *TokenStore {
	t.Helper()

	store, err := NewTokenStore(context.Background(), keyring.NewMemory(), opts...)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestTokenStoreSetTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("authenticated requires token and user", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		require.False(t, store.IsAuthenticated())

		access := testToken(t, "s1", now, now.Add(time.Hour))
		require.NoError(t, store.SetTokens(ctx, TokenUpdate{
			AccessToken:  access,
			RefreshToken: "R1",
			Session:      &Session{ID: "s1", IssuedAt: now},
		}))

		// Token alone is not enough.
		require.False(t, store.IsAuthenticated())

		require.NoError(t, store.SetTokens(ctx, TokenUpdate{
			AccessToken:  access,
			RefreshToken: "R1",
			Session:      &Session{ID: "s1", IssuedAt: now},
			User:         testUser(),
		}))
		require.True(t, store.IsAuthenticated())

		require.Equal(t, access, store.AccessToken())
		require.Equal(t, "R1", store.RefreshToken())
		require.Equal(t, "s1", store.Session().ID)
		require.Equal(t, "customer", store.User().Role)
	})

	t.Run("expiry derived from exp claim", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		exp := now.Add(time.Hour)
		require.NoError(t, store.SetTokens(ctx, TokenUpdate{
			AccessToken: testToken(t, "s1", now, exp),
			User:        testUser(),
		}))

		info, ok := store.ExpirationInfo()
		require.True(t, ok)
		require.WithinDuration(t, exp, info.ExpiresAt, time.Second)
		require.WithinDuration(t, now, info.IssuedAt, time.Second)
		require.False(t, info.IsExpired)
		require.Greater(t, info.TimeUntilExpiry, 59*time.Minute)
	})

	t.Run("explicit expires_in wins over claim", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		require.NoError(t, store.SetTokens(ctx, TokenUpdate{
			AccessToken: testToken(t, "s1", now, now.Add(time.Hour)),
			ExpiresIn:   30 * time.Second,
			User:        testUser(),
		}))

		info, ok := store.ExpirationInfo()
		require.True(t, ok)
		require.WithinDuration(t, now.Add(30*time.Second), info.ExpiresAt, time.Second)
	})

	t.Run("expired token reports expired", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		require.NoError(t, store.SetTokens(ctx, TokenUpdate{
			AccessToken: testToken(t, "s1", now.Add(-2*time.Hour), now.Add(-time.Second)),
			User:        testUser(),
		}))

		info, ok := store.ExpirationInfo()
		require.True(t, ok)
		require.True(t, info.IsExpired)
		require.Negative(t, info.TimeUntilExpiry)
	})

	t.Run("no expiry info without a parsable token", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		_, ok := store.ExpirationInfo()
		require.False(t, ok)

		// Opaque token, no expires_in: nothing to derive from.
		require.NoError(t, store.SetTokens(ctx, TokenUpdate{AccessToken: "opaque"}))
		_, ok = store.ExpirationInfo()
		require.False(t, ok)
	})

	t.Run("missing access token rejected", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		err := store.SetTokens(ctx, TokenUpdate{RefreshToken: "R1"})
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestTokenStoreClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	ring := keyring.NewMemory()

	store, err := NewTokenStore(ctx, ring)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetTokens(ctx, TokenUpdate{
		AccessToken:  testToken(t, "s1", now, now.Add(time.Hour)),
		RefreshToken: "R1",
		User:         testUser(),
	}))

	// A logout can land mid-authorization; the code verifier on disk
	// must go with everything else.
	require.NoError(t, ring.Set(ctx, keyring.KeyPKCEData, `{"codeVerifier":"v"}`))

	var events []StoreEvent
	store.Subscribe(func(ev StoreEvent) { events = append(events, ev) })

	require.NoError(t, store.Clear(ctx))

	require.False(t, store.IsAuthenticated())
	require.Empty(t, store.AccessToken())
	require.Empty(t, store.RefreshToken())
	require.Nil(t, store.User())
	require.Nil(t, store.Session())
	_, ok := store.ExpirationInfo()
	require.False(t, ok)

	_, err = ring.Get(ctx, keyring.KeyPKCEData)
	require.ErrorIs(t, err, keyring.ErrNotFound)

	require.Len(t, events, 1)
	require.Equal(t, EventCleared, events[0].Type)
}

func TestTokenStorePersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	ring := keyring.NewMemory()

	first, err := NewTokenStore(ctx, ring)
	require.NoError(t, err)
	defer first.Close()

	access := testToken(t, "s1", now, now.Add(time.Hour))
	require.NoError(t, first.SetTokens(ctx, TokenUpdate{
		AccessToken:  access,
		RefreshToken: "R1",
		Session:      &Session{ID: "s1", IssuedAt: now},
		User:         testUser(),
	}))

	// A new store over the same keyring restores the session, with the
	// expiry rederived from the token's own claims.
	second, err := NewTokenStore(ctx, ring)
	require.NoError(t, err)
	defer second.Close()

	require.True(t, second.IsAuthenticated())
	require.Equal(t, access, second.AccessToken())
	require.Equal(t, "R1", second.RefreshToken())
	require.Equal(t, "s1", second.Session().ID)

	info, ok := second.ExpirationInfo()
	require.True(t, ok)
	require.WithinDuration(t, now.Add(time.Hour), info.ExpiresAt, time.Second)
}

func TestTokenStoreCrossInstanceConvergence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	// Two stores share a keyring and a broadcaster: the multi-tab
	// scenario. Writes in one become visible in the other.
	ring := keyring.NewMemory()
	bus := keyring.NewBroadcaster()

	tabA, err := NewTokenStore(ctx, ring, WithStoreBroadcaster(bus))
	require.NoError(t, err)
	defer tabA.Close()

	tabB, err := NewTokenStore(ctx, ring, WithStoreBroadcaster(bus))
	require.NoError(t, err)
	defer tabB.Close()

	var tabBEvents []StoreEvent
	tabB.Subscribe(func(ev StoreEvent) { tabBEvents = append(tabBEvents, ev) })

	access := testToken(t, "s1", now, now.Add(time.Hour))
	require.NoError(t, tabA.SetTokens(ctx, TokenUpdate{
		AccessToken:  access,
		RefreshToken: "R1",
		User:         testUser(),
	}))

	require.Equal(t, access, tabB.AccessToken())
	require.True(t, tabB.IsAuthenticated())
	require.NotEmpty(t, tabBEvents)
	require.Equal(t, EventExternalUpdate, tabBEvents[0].Type)

	// Logout in one tab logs out the other.
	require.NoError(t, tabA.Clear(ctx))
	require.False(t, tabB.IsAuthenticated())
}

func TestTokenStoreGenerationGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	store := newTestStore(t)

	require.NoError(t, store.SetTokens(ctx, TokenUpdate{
		AccessToken: testToken(t, "s1", now, now.Add(time.Hour)),
		User:        testUser(),
	}))

	generation := store.Generation()

	// The session moves on (a clear, as if the user logged out) while
	// some slow operation holds the old generation.
	require.NoError(t, store.Clear(ctx))

	applied, err := store.SetTokensIfGeneration(ctx, generation, TokenUpdate{
		AccessToken: testToken(t, "stale", now, now.Add(time.Hour)),
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.Empty(t, store.AccessToken())

	// With the current generation the update lands.
	applied, err = store.SetTokensIfGeneration(ctx, store.Generation(), TokenUpdate{
		AccessToken: testToken(t, "s2", now, now.Add(time.Hour)),
	})
	require.NoError(t, err)
	require.True(t, applied)
}
