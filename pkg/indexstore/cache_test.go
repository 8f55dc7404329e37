package indexstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	c.Put([]byte("a"), []byte("1"))
	c.Put([]byte("b"), []byte("2"))

	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.Get([]byte("a"))
	require.True(t, ok)

	c.Put([]byte("c"), []byte("3"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get([]byte("b"))
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.Get([]byte("a"))
	assert.True(t, ok)
	_, ok = c.Get([]byte("c"))
	assert.True(t, ok)
}

func TestCachedMapInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m, err := s.Map(ctx, "cached")
	require.NoError(t, err)
	m = m.WithCache(NewCache(8))

	_, _, err = m.Insert(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)

	// Populate the cache, then overwrite through the map.
	v, ok, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	_, _, err = m.Insert(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)

	v, ok, err = m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v, "write must invalidate the cached value")

	_, _, err = m.Remove(ctx, []byte("k"))
	require.NoError(t, err)
	_, ok, err = m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}
