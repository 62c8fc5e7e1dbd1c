package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateVerifier(t *testing.T) {
	t.Parallel()

	t.Run("default length", func(t *testing.T) {
		v, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		require.Len(t, v, DefaultVerifierLength)
	})

	t.Run("minimum length", func(t *testing.T) {
		v, err := GenerateVerifier(MinVerifierLength)
		require.NoError(t, err)
		require.Len(t, v, MinVerifierLength)
	})

	t.Run("charset membership", func(t *testing.T) {
		v, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		for i := 0; i < len(v); i++ {
			require.True(t, isUnreserved(v[i]), "character %q at %d", v[i], i)
		}
	})

	t.Run("uniqueness", func(t *testing.T) {
		a, err := GenerateVerifier(MinVerifierLength)
		require.NoError(t, err)
		b, err := GenerateVerifier(MinVerifierLength)
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("rejects out of range lengths", func(t *testing.T) {
		for _, length := range []int{0, -1, 42, 129, 1024} {
			_, err := GenerateVerifier(length)
			require.ErrorIs(t, err, ErrInvalidLength, "length %d", length)
		}
	})
}

func TestDeriveChallenge(t *testing.T) {
	t.Parallel()

	t.Run("S256 matches manual computation", func(t *testing.T) {
		verifier := strings.Repeat("a", 43)
		sum := sha256.Sum256([]byte(verifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])

		got, err := DeriveChallenge(verifier, MethodS256)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("S256 is deterministic", func(t *testing.T) {
		for _, length := range []int{MinVerifierLength, RecommendedVerifierLength, MaxVerifierLength} {
			verifier, err := GenerateVerifier(length)
			require.NoError(t, err)

			first, err := DeriveChallenge(verifier, MethodS256)
			require.NoError(t, err)
			second, err := DeriveChallenge(verifier, MethodS256)
			require.NoError(t, err)
			require.Equal(t, first, second)
		}
	})

	t.Run("S256 output has no padding", func(t *testing.T) {
		verifier, err := GenerateVerifier(MinVerifierLength)
		require.NoError(t, err)

		challenge, err := DeriveChallenge(verifier, MethodS256)
		require.NoError(t, err)
		require.NotContains(t, challenge, "=")
		require.Len(t, challenge, 43) // base64url of a 32-byte digest
	})

	t.Run("plain returns the verifier unchanged", func(t *testing.T) {
		verifier := strings.Repeat("b", 50)
		challenge, err := DeriveChallenge(verifier, MethodPlain)
		require.NoError(t, err)
		require.Equal(t, verifier, challenge)
	})

	t.Run("unknown method fails", func(t *testing.T) {
		_, err := DeriveChallenge(strings.Repeat("c", 43), Method("S512"))
		require.ErrorIs(t, err, ErrUnsupportedMethod)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("roundtrip for both methods", func(t *testing.T) {
		for _, method := range []Method{MethodS256, MethodPlain} {
			verifier, err := GenerateVerifier(DefaultVerifierLength)
			require.NoError(t, err)

			challenge, err := DeriveChallenge(verifier, method)
			require.NoError(t, err)
			require.True(t, Verify(verifier, challenge, method), "method %s", method)
		}
	})

	t.Run("tampered verifier fails", func(t *testing.T) {
		verifier, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		challenge, err := DeriveChallenge(verifier, MethodS256)
		require.NoError(t, err)

		tampered := "X" + verifier[1:]
		require.False(t, Verify(tampered, challenge, MethodS256))
	})

	t.Run("tampered challenge fails", func(t *testing.T) {
		verifier, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		challenge, err := DeriveChallenge(verifier, MethodS256)
		require.NoError(t, err)

		require.False(t, Verify(verifier, challenge[:len(challenge)-1]+"A", MethodS256))
	})

	t.Run("unsupported method fails closed", func(t *testing.T) {
		require.False(t, Verify("verifier", "challenge", Method("md5")))
	})
}

func TestValidateVerifier(t *testing.T) {
	t.Parallel()

	t.Run("valid verifier", func(t *testing.T) {
		v := ValidateVerifier(strings.Repeat("a", 64) + "-._~")
		require.True(t, v.Valid)
		require.Empty(t, v.Errors)
		require.Empty(t, v.Warnings)
	})

	t.Run("rejects length 42", func(t *testing.T) {
		v := ValidateVerifier(strings.Repeat("a", 42))
		require.False(t, v.Valid)
		require.NotEmpty(t, v.Errors)
	})

	t.Run("rejects length 129", func(t *testing.T) {
		v := ValidateVerifier(strings.Repeat("a", 129))
		require.False(t, v.Valid)
		require.NotEmpty(t, v.Errors)
	})

	t.Run("rejects characters outside the unreserved set", func(t *testing.T) {
		for _, bad := range []string{"+", "/", "=", " ", "!", "%"} {
			v := ValidateVerifier(strings.Repeat("a", 50) + bad)
			require.False(t, v.Valid, "character %q", bad)
		}
	})

	t.Run("warns under recommended length", func(t *testing.T) {
		v := ValidateVerifier(strings.Repeat("a", 43))
		require.True(t, v.Valid)
		require.NotEmpty(t, v.Warnings)
	})

	t.Run("no warning at recommended length", func(t *testing.T) {
		v := ValidateVerifier(strings.Repeat("a", RecommendedVerifierLength))
		require.True(t, v.Valid)
		require.Empty(t, v.Warnings)
	})
}

func TestParseMethod(t *testing.T) {
	t.Parallel()

	m, err := ParseMethod("S256")
	require.NoError(t, err)
	require.Equal(t, MethodS256, m)

	m, err = ParseMethod("plain")
	require.NoError(t, err)
	require.Equal(t, MethodPlain, m)

	_, err = ParseMethod("s256")
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestNewPair(t *testing.T) {
	t.Parallel()

	pair, err := NewPair(MethodS256)
	require.NoError(t, err)
	require.Len(t, pair.Verifier, DefaultVerifierLength)
	require.Equal(t, MethodS256, pair.Method)
	require.True(t, Verify(pair.Verifier, pair.Challenge, pair.Method))
}
