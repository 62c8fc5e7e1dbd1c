// Package sqlite persists keyring state in a local SQLite database so
// a session survives process restarts. Values are optionally sealed
// (AES-256-GCM) before they touch disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ricardoahumada/sfd-auth-client/pkg/cryptox"
	"github.com/ricardoahumada/sfd-auth-client/pkg/keyring"

	_ "modernc.org/sqlite"
)

// Store implements keyring.Store on a SQLite file.
type Store struct {
	db     *sql.DB
	sealer *cryptox.Sealer
	dsn    string
}

// Option configures a Store.
type Option func(*config)

type config struct {
	passphrase []byte
}

// WithSealing encrypts every value at rest under a key derived from
// passphrase. The derivation salt is stored alongside the data (it is
// not secret). Opening a sealed store with the wrong passphrase fails
// on the first Get.
func WithSealing(passphrase []byte) Option {
	return func(c *config) { c.passphrase = passphrase }
}

// NewStore opens (or creates) the database at dsn and applies pending
// migrations. Use a DSN like "file:state.db?_busy_timeout=5000".
func NewStore(dsn string, opts ...Option) (*Store, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dsn: dsn}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if len(cfg.passphrase) > 0 {
		sealer, err := s.initSealer(cfg.passphrase)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.sealer = sealer
	}

	return s, nil
}

// initSealer loads the persisted derivation salt, creating one on
// first use, and builds the sealer from it.
func (s *Store) initSealer(passphrase []byte) (*cryptox.Sealer, error) {
	ctx := context.Background()

	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT salt FROM seal_meta WHERE id = 1`).Scan(&encoded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		salt, err := cryptox.NewSaltForSealer()
		if err != nil {
			return nil, err
		}
		encoded = base64.RawStdEncoding.EncodeToString(salt)
		if _, err := s.db.ExecContext(ctx, `INSERT INTO seal_meta (id, salt) VALUES (1, ?)`, encoded); err != nil {
			return nil, fmt.Errorf("failed to persist seal salt: %w", err)
		}
		return cryptox.NewSealer(passphrase, salt)
	case err != nil:
		return nil, fmt.Errorf("failed to load seal salt: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt seal salt: %w", err)
	}
	return cryptox.NewSealer(passphrase, salt)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", keyring.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if s.sealer == nil {
		return stored, nil
	}

	sealed, err := base64.RawStdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("corrupt sealed value for %q: %w", key, err)
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to unseal value for %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	stored := value
	if s.sealer != nil {
		sealed, err := s.sealer.Seal([]byte(value))
		if err != nil {
			return fmt.Errorf("failed to seal value for %q: %w", key, err)
		}
		stored = base64.RawStdEncoding.EncodeToString(sealed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, stored, time.Now().UTC())
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
