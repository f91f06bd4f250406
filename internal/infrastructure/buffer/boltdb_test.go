package buffer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "buffer.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueOrdersByPriority(t *testing.T) {
	s := openStore(t)

	for _, item := range []Item{
		{ID: "low", Priority: 3, IdempotencyKey: "a"},
		{ID: "high", Priority: 1, IdempotencyKey: "b"},
		{ID: "mid", Priority: 2},
	} {
		added, err := s.Enqueue(item)
		require.NoError(t, err)
		assert.True(t, added)
	}

	items, err := s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestEnqueueDeduplicatesIdempotencyKey(t *testing.T) {
	s := openStore(t)

	added, err := s.Enqueue(Item{ID: "one", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Enqueue(Item{ID: "two", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, added)

	items, err := s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// once removed, the key may be buffered again
	require.NoError(t, s.Remove(items[0]))
	added, err = s.Enqueue(Item{ID: "three", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRequeueKeepsIndexAndMovesBack(t *testing.T) {
	s := openStore(t)
	old := time.Now().Add(-time.Minute)
	_, err := s.Enqueue(Item{ID: "first", IdempotencyKey: "k1", Timestamp: old})
	require.NoError(t, err)
	_, err = s.Enqueue(Item{ID: "second", Timestamp: old.Add(time.Second)})
	require.NoError(t, err)

	items, err := s.GetBatch(1)
	require.NoError(t, err)
	require.Equal(t, "first", items[0].ID)
	items[0].Retries++
	require.NoError(t, s.Requeue(items[0]))

	items, err = s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[0].ID)
	assert.Equal(t, 1, items[1].Retries)

	added, err := s.Enqueue(Item{ID: "dup", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestCleanupRemovesExpired(t *testing.T) {
	s := openStore(t)
	_, err := s.Enqueue(Item{ID: "stale", IdempotencyKey: "k", Timestamp: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Enqueue(Item{ID: "fresh"})
	require.NoError(t, err)

	removed, err := s.Cleanup(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}
