package matcher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/embeddings"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

type recordBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordBus) Publish(ctx context.Context, e events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordBus) Close() error { return nil }

func (b *recordBus) bySubject(subject string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Subject() == subject {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	matcher      *Matcher
	goals        *goal.MemStore
	deliverables *deliverable.MemStore
	bus          *recordBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, embeddings.NewHashProvider(0), nil)
	require.NoError(t, err)

	goals := goal.NewMemStore()
	deliverables := deliverable.NewMemStore()
	bus := &recordBus{}
	m := New(store, goals, deliverables, bus, logging.NewTestLogger().Logger, config.MatcherConfig{
		Threshold:          0.7,
		ContributionWeight: 1.0,
	})
	return &fixture{matcher: m, goals: goals, deliverables: deliverables, bus: bus}
}

func (f *fixture) addGoal(t *testing.T, workspaceID, description string, target float64) *goal.Goal {
	t.Helper()
	g, err := goal.New(workspaceID, description, goal.MetricDeliverables, target)
	require.NoError(t, err)
	require.NoError(t, f.goals.Create(context.Background(), g))
	require.NoError(t, f.matcher.IndexGoal(context.Background(), g))
	return g
}

func (f *fixture) addDeliverable(t *testing.T, workspaceID, content string, weight float64) *deliverable.Deliverable {
	t.Helper()
	d := deliverable.New(workspaceID, "task-1", content, weight)
	require.NoError(t, f.deliverables.Create(context.Background(), d))
	return d
}

func TestMatchAssociatesSimilarGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	publish := f.addGoal(t, "ws-1", "publish ten research articles about marine biology", 10)
	f.addGoal(t, "ws-1", "respond to every customer support ticket within one hour", 100)

	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, publish.ID, res.GoalID)
	assert.GreaterOrEqual(t, res.Confidence, 0.7)

	stored, err := f.deliverables.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverable.StatusMatched, stored.Status)
	assert.Equal(t, publish.ID, stored.GoalID)

	updated, err := f.goals.Get(ctx, publish.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.CurrentValue)

	progress := f.bus.bySubject("goal.progress")
	require.Len(t, progress, 1)
	assert.Equal(t, publish.ID, progress[0].(events.GoalProgressChanged).GoalID)
}

func TestMatchBelowThresholdGoesToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGoal(t, "ws-1", "publish ten research articles about marine biology", 10)

	// Nothing in common with the goal vocabulary; must not default to the
	// only active goal.
	d := f.addDeliverable(t, "ws-1", "quarterly expense spreadsheet reconciled against receipts", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.GoalID)
	assert.Contains(t, res.Reason, "below threshold")

	stored, err := f.deliverables.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverable.StatusNeedsReview, stored.Status)
	assert.Empty(t, stored.GoalID)

	unchanged, err := f.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, unchanged.CurrentValue)

	review := f.bus.bySubject("deliverable.review")
	require.Len(t, review, 1)
	assert.Equal(t, d.ID, review[0].(events.DeliverableNeedsReview).DeliverableID)
}

func TestMatchNoGoalsIndexed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "no active goals indexed")
}

func TestMatchRespectsWorkspaceIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addGoal(t, "ws-other", "publish ten research articles about marine biology", 10)

	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Matched, "goals from other workspaces must never match")
}

func TestMatchCapsProgressAndCompletesGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGoal(t, "ws-1", "publish two research articles about marine biology", 2)
	_, err := f.goals.UpdateProgress(ctx, g.ID, 1.5)
	require.NoError(t, err)

	// Weight 1.0 against 0.5 remaining: capped at the target.
	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	require.True(t, res.Matched)

	done, err := f.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, done.CurrentValue)
	assert.Equal(t, goal.StatusCompleted, done.Status)

	// Completed goals leave the index: the next deliverable has no target.
	next := f.addDeliverable(t, "ws-1", "more research articles about marine biology ready to publish", 1.0)
	res, err = f.matcher.Match(ctx, next)
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestMatchAppliesContributionWeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGoal(t, "ws-1", "publish ten research articles about marine biology", 10)

	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 0.5)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	require.True(t, res.Matched)

	updated, err := f.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, updated.CurrentValue)
}

func TestMatchSkipsInactiveGoals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGoal(t, "ws-1", "publish ten research articles about marine biology", 10)
	require.NoError(t, f.goals.SetStatus(ctx, g.ID, goal.StatusPaused))

	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	res, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Matched, "paused goals must not accept progress")
}

func TestMatchRejectsNonPendingDeliverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addGoal(t, "ws-1", "publish ten research articles about marine biology", 10)
	d := f.addDeliverable(t, "ws-1", "research articles about marine biology ready to publish", 1.0)
	_, err := f.matcher.Match(ctx, d)
	require.NoError(t, err)

	matched, err := f.deliverables.Get(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.matcher.Match(ctx, matched)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only pending_match")
}
