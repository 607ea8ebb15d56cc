package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetRemove(t *testing.T) {
	m := NewMemoryStore(0)

	v, err := m.Get("chatSessionId")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, m.Set("chatSessionId", "abc123"))
	v, err = m.Get("chatSessionId")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	require.NoError(t, m.Remove("chatSessionId"))
	v, err = m.Get("chatSessionId")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, m.Remove("missing"))
}

func TestMemoryStore_TrimsOldestKeys(t *testing.T) {
	m := NewMemoryStore(2)
	require.NoError(t, m.Set("a", "1"))
	require.NoError(t, m.Set("b", "2"))
	require.NoError(t, m.Set("a", "3"))
	require.NoError(t, m.Set("c", "4"))

	assert.Equal(t, []string{"b", "c"}, m.keys())
	v, _ := m.Get("a")
	assert.Empty(t, v)
}
