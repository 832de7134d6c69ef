package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"128-bit token", TokenSize128},
		{"256-bit token", TokenSize256},
		{"512-bit token", TokenSize512},
		{"custom size", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			// Round-trips through base64url without padding
			raw, err := base64.RawURLEncoding.DecodeString(token)
			require.NoError(t, err)
			require.Len(t, raw, tt.size)

			token2, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, token2, "tokens should be unique")
		})
	}
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestMustGenerateToken(t *testing.T) {
	require.NotEmpty(t, MustGenerateToken(TokenSize256))

	require.Panics(t, func() {
		MustGenerateToken(-1)
	})
}

func TestFingerprintToken(t *testing.T) {
	fpA := FingerprintToken("token-a")
	fpB := FingerprintToken("token-b")

	require.Equal(t, fpA, FingerprintToken("token-a"), "fingerprint should be deterministic")
	require.NotEqual(t, fpA, fpB)
	require.Len(t, fpA, 43, "SHA-256 base64url should be 43 chars")
}

func TestGenerateToken_NoDuplicates(t *testing.T) {
	const count = 100
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.NotContains(t, seen, token, "duplicate token generated")
		seen[token] = true
	}
}
