package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the sealing key from a passphrase.
// Interactive-use settings: the derivation runs once per process.
const (
	sealKDFIterations  = 3
	sealKDFMemory      = 64 * 1024 // KiB
	sealKDFParallelism = 2
	sealKeyLength      = 32 // AES-256
	sealSaltLength     = 16
)

// ErrCiphertextTooShort reports sealed data shorter than its framing.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts small values (tokens, session JSON) before they hit
// durable storage, using AES-256-GCM under a passphrase-derived key.
// Construct one per store; there is no package-level singleton.
type Sealer struct {
	key []byte
}

// NewSealer derives an AES-256 key from passphrase with Argon2id and a
// store-scoped salt. The salt is not secret; it must simply be stable
// for the lifetime of the sealed data (the keyring persists it).
func NewSealer(passphrase, salt []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("cryptox: empty sealing passphrase")
	}
	if len(salt) < sealSaltLength {
		return nil, fmt.Errorf("cryptox: sealing salt must be at least %d bytes, got %d", sealSaltLength, len(salt))
	}

	key := argon2.IDKey(passphrase, salt, sealKDFIterations, sealKDFMemory, sealKDFParallelism, sealKeyLength)
	return &Sealer{key: key}, nil
}

// NewSaltForSealer returns a fresh random salt of the required length.
func NewSaltForSealer() ([]byte, error) {
	salt := make([]byte, sealSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext. Output layout: [12-byte nonce][ciphertext
// and 16-byte auth tag], a random nonce per call.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal, verifying the auth tag.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}

	return gcm, nil
}
