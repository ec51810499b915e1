package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
)

var _ storage.TimeoutStore = (*TimeoutStore)(nil)

func entry(id string, at time.Time) *domain.TimeoutEntry {
	return &domain.TimeoutEntry{
		ID:          id,
		Destination: "orders",
		Headers:     domain.Headers{domain.HeaderRetries: "1"},
		State:       []byte("body"),
		Time:        at,
	}
}

func TestTimeoutStore_PeekAndTryRemove(t *testing.T) {
	ctx := context.Background()
	s := NewTimeoutStore()
	now := time.Now()

	require.NoError(t, s.Add(ctx, entry("t-1", now)))
	assert.ErrorIs(t, s.Add(ctx, entry("t-1", now)), storage.ErrDuplicateTimeout)

	got, err := s.Peek(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "orders", got.Destination)

	got.Headers["mutated"] = "yes"
	again, _ := s.Peek(ctx, "t-1")
	assert.NotContains(t, again.Headers, "mutated")

	removed, err := s.TryRemove(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.TryRemove(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, removed, "second remove loses the race")

	missing, err := s.Peek(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTimeoutStore_GetDueOrderedAndLimited(t *testing.T) {
	ctx := context.Background()
	s := NewTimeoutStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add(ctx, entry("late", now.Add(-time.Second))))
	require.NoError(t, s.Add(ctx, entry("early", now.Add(-time.Minute))))
	require.NoError(t, s.Add(ctx, entry("future", now.Add(time.Minute))))
	require.NoError(t, s.Add(ctx, entry("exact", now)))

	due, err := s.GetDue(ctx, now, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"early", "late", "exact"}, ids)

	due, err = s.GetDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
