package deliverable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeliverable(t *testing.T) {
	d := New("ws-1", "task-1", "final report content", 0)
	assert.Equal(t, StatusPendingMatch, d.Status)
	assert.Equal(t, 1.0, d.ContributionWeight, "non-positive weight defaults to 1.0")
	assert.Empty(t, d.GoalID)
}

func TestMarkMatched(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	d := New("ws-1", "task-1", "content", 1.0)
	require.NoError(t, store.Create(ctx, d))

	require.NoError(t, store.MarkMatched(ctx, d.ID, "goal-1", 0.91))

	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, got.Status)
	assert.Equal(t, "goal-1", got.GoalID)
	assert.Equal(t, 0.91, got.MatchConfidence)

	// Matching requires a goal
	require.Error(t, store.MarkMatched(ctx, d.ID, "", 0.9))
}

func TestNeedsReviewQueue(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	d := New("ws-1", "task-1", "content", 1.0)
	require.NoError(t, store.Create(ctx, d))

	require.NoError(t, store.MarkNeedsReview(ctx, d.ID, "no goal cleared threshold 0.70 (best 0.40)", 0.40))

	queue, err := store.ListNeedsReview(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Empty(t, queue[0].GoalID, "needs_review deliverable is never defaulted to a goal")
	assert.Contains(t, queue[0].ReviewReason, "threshold")

	pending, err := store.ListPendingMatch(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequeueOnlyFromNeedsReview(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	d := New("ws-1", "task-1", "content", 1.0)
	require.NoError(t, store.Create(ctx, d))

	require.Error(t, store.Requeue(ctx, d.ID), "pending_match cannot be requeued")

	require.NoError(t, store.MarkNeedsReview(ctx, d.ID, "low confidence", 0.3))
	require.NoError(t, store.Requeue(ctx, d.ID))

	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingMatch, got.Status)
	assert.Empty(t, got.ReviewReason)
}

func TestDeleteWorkspace(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	a := New("ws-1", "task-1", "content a", 1.0)
	b := New("ws-2", "task-2", "content b", 1.0)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.DeleteWorkspace(ctx, "ws-1"))

	_, err := store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, b.ID)
	assert.NoError(t, err)
}
