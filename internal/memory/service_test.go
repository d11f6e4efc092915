package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/embeddings"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, embeddings.NewHashProvider(0), nil)
	require.NoError(t, err)
	svc, err := NewService(store, Config{DefaultTTL: time.Hour, SweepInterval: time.Hour}, nil)
	require.NoError(t, err)
	return svc
}

func TestAppendAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	entry, err := svc.Append(ctx, "ws-1", "lesson", "rate limit the crawler to avoid bans", 0.8, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, time.Hour, entry.TTL, "zero TTL takes the configured default")
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Append(ctx, "", "k", "payload", 0.5, 0)
	require.Error(t, err)
	_, err = svc.Append(ctx, "ws-1", "k", "", 0.5, 0)
	require.Error(t, err)
}

func TestRecallIsWorkspaceScoped(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Append(ctx, "ws-1", "lesson", "crawler needs exponential backoff on retries", 0.9, 0)
	require.NoError(t, err)
	_, err = svc.Append(ctx, "ws-2", "lesson", "crawler needs exponential backoff on retries", 0.9, 0)
	require.NoError(t, err)

	got, err := svc.Recall(ctx, "ws-1", "how should the crawler retry", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ws-1", got[0].Entry.WorkspaceID)
	assert.Greater(t, got[0].Score, float32(0))
}

func TestDeleteWorkspaceRemovesEntriesAndIndex(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Append(ctx, "ws-1", "lesson", "crawler needs exponential backoff on retries", 0.9, 0)
	require.NoError(t, err)
	_, err = svc.Append(ctx, "ws-1", "lesson", "crawler should rotate user agents per request", 0.7, 0)
	require.NoError(t, err)
	_, err = svc.Append(ctx, "ws-2", "lesson", "crawler needs exponential backoff on retries", 0.9, 0)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWorkspace(ctx, "ws-1"))

	// Both the records and the vector-index documents are gone, not just
	// filtered; recall finds nothing without waiting out the TTL.
	got, err := svc.Recall(ctx, "ws-1", "how should the crawler retry", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	svc.mu.Lock()
	for _, entry := range svc.entries {
		assert.NotEqual(t, "ws-1", entry.WorkspaceID)
	}
	svc.mu.Unlock()

	// Other workspaces are untouched.
	got, err = svc.Recall(ctx, "ws-2", "how should the crawler retry", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Empty workspaces and repeat calls are no-ops.
	require.NoError(t, svc.DeleteWorkspace(ctx, "ws-1"))
	require.Error(t, svc.DeleteWorkspace(ctx, ""))
}

func TestRecallEmptyStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	got, err := svc.Recall(ctx, "ws-1", "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	keep, err := svc.Append(ctx, "ws-1", "k", "long lived context entry", 0.5, time.Hour)
	require.NoError(t, err)
	expire, err := svc.Append(ctx, "ws-1", "k", "short lived context entry", 0.5, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	removed, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := svc.Recall(ctx, "ws-1", "context entry", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.ID, got[0].Entry.ID)
	_ = expire
}

func TestStartStop(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "double start must fail")
	svc.Stop()
	// Stop is idempotent
	svc.Stop()
	require.NoError(t, svc.Start())
	svc.Stop()
}
