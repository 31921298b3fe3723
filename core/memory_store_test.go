package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Delete(ctx, "k"))
	got, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got, "expired entries read as missing")

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInMemoryEpisodicMemory_StoreRecallRoundTrip(t *testing.T) {
	m := NewInMemoryEpisodicMemory(10)
	ctx := context.Background()

	require.NoError(t, m.StoreInsight(ctx, "cycle_summary", map[string]int{"cycle": 1}))
	require.NoError(t, m.StoreInsight(ctx, "cycle_summary", map[string]int{"cycle": 2}))

	insights, err := m.Recall(ctx, "cycle_summary")
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Contains(t, insights[0], `"cycle":1`)
	assert.Contains(t, insights[1], `"cycle":2`)
}

func TestInMemoryEpisodicMemory_BoundsRetention(t *testing.T) {
	m := NewInMemoryEpisodicMemory(2)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, m.StoreInsight(ctx, "k", map[string]int{"n": i}))
	}

	insights, err := m.Recall(ctx, "k")
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Contains(t, insights[0], `"n":3`)
	assert.Contains(t, insights[1], `"n":4`)
}

func TestInMemoryEpisodicMemory_UnknownKindIsEmpty(t *testing.T) {
	m := NewInMemoryEpisodicMemory(2)
	insights, err := m.Recall(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, insights)
}
