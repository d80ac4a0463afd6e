package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		key, err := GenerateAPIKey()
		require.NoError(t, err)

		assert.True(t, ValidateAPIKeyFormat(key), "generated key has invalid format: %s", key)
		assert.False(t, seen[key], "generated duplicate key: %s", key)
		seen[key] = true

		parts := strings.Split(key, "-")
		require.Len(t, parts, 4)
		assert.Equal(t, "crk", parts[0])
		assert.Len(t, parts[3], 32)
	}
}

func TestValidateAPIKeyFormat(t *testing.T) {
	valid, err := GenerateAPIKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{"generated key", valid, true},
		{"empty", "", false},
		{"wrong prefix", "xyz-bright-signal-0123456789abcdef0123456789abcdef", false},
		{"unknown adjective", "crk-sideways-signal-0123456789abcdef0123456789abcdef", false},
		{"unknown noun", "crk-bright-walrus-0123456789abcdef0123456789abcdef", false},
		{"short secret", "crk-bright-signal-0123456789abcdef", false},
		{"uppercase secret", "crk-bright-signal-0123456789ABCDEF0123456789ABCDEF", false},
		{"missing part", "crk-bright-0123456789abcdef0123456789abcdef", false},
		{"legacy hex key", strings.Repeat("ab", 32), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateAPIKeyFormat(tt.apiKey))
		})
	}
}
