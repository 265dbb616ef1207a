package world

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveRanksByKeywordImportanceAndRecency(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Add(ctx, NewMemory("a", KindObservation, "Watered the tomato plants", 3, 1)))
	require.NoError(t, s.Add(ctx, NewMemory("a", KindConversation, "Kabir said: the drill is broken", 6, 2)))
	require.NoError(t, s.Add(ctx, NewMemory("a", KindObservation, "Ate lunch", 1, 3)))
	require.NoError(t, s.Add(ctx, NewMemory("b", KindObservation, "Other worker memory about tomato", 9, 3)))

	got, err := s.Retrieve(ctx, "a", "tomato harvest", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Watered the tomato plants", got[0].Content)
	assert.Equal(t, "Kabir said: the drill is broken", got[1].Content)
	assert.Greater(t, got[0].Score, got[1].Score)

	none, err := s.Retrieve(ctx, "nobody", "tomato", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range maxMemoriesPerWorker + 10 {
		require.NoError(t, s.Add(ctx, NewMemory("a", KindObservation, fmt.Sprintf("m%d", i), 1, int64(i))))
	}

	all, err := s.Retrieve(ctx, "a", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, maxMemoriesPerWorker)
	assert.Equal(t, fmt.Sprintf("m%d", maxMemoriesPerWorker+9), all[0].Content)
}

func TestNewMemory(t *testing.T) {
	m := NewMemory("a", KindObservation, "x", 2, 7)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(7), m.Step)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, []string{"x"}, Contents([]Memory{m}))
}

func TestRecentIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := range 3 {
		require.NoError(t, s.Add(ctx, NewMemory("a", KindObservation, fmt.Sprintf("m%d", i), 1, int64(i))))
	}

	got, err := s.Recent(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, Contents(got))

	all, err := s.Recent(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1", "m0"}, Contents(all))

	none, err := s.Recent(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
