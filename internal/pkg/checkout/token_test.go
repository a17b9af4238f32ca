package checkout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCheckoutID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewCheckoutID()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "chk_"), "id %q", id)
		assert.Equal(t, strings.ToLower(id), id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestNewAuthToken(t *testing.T) {
	a, err := NewAuthToken()
	require.NoError(t, err)
	b, err := NewAuthToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
