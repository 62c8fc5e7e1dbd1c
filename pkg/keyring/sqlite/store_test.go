package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"

	"github.com/stretchr/testify/require"
)

func testDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "state.db") + "?_busy_timeout=5000"
}

func TestStoreRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s, err := NewStore(testDSN(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, keyring.KeyAccessToken)
	require.ErrorIs(t, err, keyring.ErrNotFound)

	require.NoError(t, s.Set(ctx, keyring.KeyAccessToken, "tok-1"))
	v, err := s.Get(ctx, keyring.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "tok-1", v)

	// Upsert replaces.
	require.NoError(t, s.Set(ctx, keyring.KeyAccessToken, "tok-2"))
	v, err = s.Get(ctx, keyring.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "tok-2", v)

	require.NoError(t, s.Delete(ctx, keyring.KeyAccessToken))
	_, err = s.Get(ctx, keyring.KeyAccessToken)
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := testDSN(t)

	s, err := NewStore(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, keyring.KeyRefreshToken, "refresh-1"))
	require.NoError(t, s.Close())

	reopened, err := NewStore(dsn)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, keyring.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", v)
}

func TestSealedStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := testDSN(t)
	passphrase := []byte("local-dev-passphrase")

	s, err := NewStore(dsn, WithSealing(passphrase))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, keyring.KeyAccessToken, "secret-token"))

	// The raw row must not contain the plaintext.
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, keyring.KeyAccessToken).Scan(&raw)
	require.NoError(t, err)
	require.NotContains(t, raw, "secret-token")
	require.NoError(t, s.Close())

	t.Run("same passphrase reopens", func(t *testing.T) {
		reopened, err := NewStore(dsn, WithSealing(passphrase))
		require.NoError(t, err)
		defer reopened.Close()

		v, err := reopened.Get(ctx, keyring.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "secret-token", v)
	})

	t.Run("wrong passphrase fails on read", func(t *testing.T) {
		wrong, err := NewStore(dsn, WithSealing([]byte("not-the-passphrase")))
		require.NoError(t, err)
		defer wrong.Close()

		_, err = wrong.Get(ctx, keyring.KeyAccessToken)
		require.Error(t, err)
	})
}
