package decomposer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// mockLister implements TaskLister.
type mockLister struct {
	tasks map[string][]*task.Task
}

func (m *mockLister) ListByGoal(ctx context.Context, goalID string) ([]*task.Task, error) {
	return m.tasks[goalID], nil
}

// mockFlagger implements GoalFlagger.
type mockFlagger struct {
	flagged map[string]string
}

func (m *mockFlagger) FlagNeedsReview(ctx context.Context, goalID, reason string) error {
	if m.flagged == nil {
		m.flagged = make(map[string]string)
	}
	m.flagged[goalID] = reason
	return nil
}

// emptyClassifier yields a category with no templates, to exercise the
// zero-descriptor path.
type emptyClassifier struct{}

func (emptyClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	return Classification{Category: Category("unknown"), Confidence: 0.2}, nil
}

func newTestDecomposer(t *testing.T, classifier Classifier, lister *mockLister, flagger *mockFlagger) *Decomposer {
	t.Helper()
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	if lister == nil {
		lister = &mockLister{}
	}
	if flagger == nil {
		flagger = &mockFlagger{}
	}
	d, err := New(classifier, lister, flagger, Config{}, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	return d
}

func mustGoal(t *testing.T, description string) *goal.Goal {
	t.Helper()
	g, err := goal.New("ws-1", description, goal.MetricDeliverables, 2)
	require.NoError(t, err)
	return g
}

func TestRuleClassifier(t *testing.T) {
	ctx := context.Background()
	c := NewRuleClassifier()

	tests := []struct {
		text string
		want Category
	}{
		{"research competitor pricing models", CategoryResearch},
		{"write a launch blog post", CategoryWriting},
		{"analyze churn metrics for Q3", CategoryAnalysis},
		{"implement the billing api integration", CategoryEngineering},
		{"run an email campaign for the beta", CategoryOutreach},
		{"something entirely unmatched", CategoryGeneral},
	}
	for _, tt := range tests {
		got, err := c.Classify(ctx, tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Category, "text: %s", tt.text)
		assert.Greater(t, got.Confidence, 0.0)
	}
}

func TestDecomposeProducesDescriptors(t *testing.T) {
	ctx := context.Background()
	d := newTestDecomposer(t, nil, nil, nil)
	g := mustGoal(t, "research competitor pricing models")

	descriptors, err := d.Decompose(ctx, g)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	for _, desc := range descriptors {
		assert.Contains(t, desc.Name, g.Description)
		assert.Equal(t, string(CategoryResearch), desc.Capability)
		assert.Equal(t, 3, desc.MaxAttempts)
		assert.Greater(t, desc.Priority, 0)
		assert.Greater(t, desc.ContributionWeight, 0.0)
	}
}

func TestDecomposeIdempotent(t *testing.T) {
	ctx := context.Background()
	g := mustGoal(t, "write a launch blog post")
	lister := &mockLister{tasks: map[string][]*task.Task{
		g.ID: {{ID: "t1", GoalID: g.ID, Status: task.StatusPending}},
	}}
	d := newTestDecomposer(t, nil, lister, nil)

	descriptors, err := d.Decompose(ctx, g)
	require.NoError(t, err)
	assert.Empty(t, descriptors, "goal with a live task must not be re-decomposed")
}

func TestDecomposeIgnoresCancelledTasks(t *testing.T) {
	ctx := context.Background()
	g := mustGoal(t, "write a launch blog post")
	lister := &mockLister{tasks: map[string][]*task.Task{
		g.ID: {{ID: "t1", GoalID: g.ID, Status: task.StatusCancelled}},
	}}
	d := newTestDecomposer(t, nil, lister, nil)

	descriptors, err := d.Decompose(ctx, g)
	require.NoError(t, err)
	assert.NotEmpty(t, descriptors, "only cancelled tasks exist, decomposition must run")
}

func TestDecomposeSkipsNonActiveGoals(t *testing.T) {
	ctx := context.Background()
	d := newTestDecomposer(t, nil, nil, nil)
	g := mustGoal(t, "write a launch blog post")
	g.Status = goal.StatusPaused

	descriptors, err := d.Decompose(ctx, g)
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}

func TestDecomposeZeroTasksFlagsGoal(t *testing.T) {
	ctx := context.Background()
	flagger := &mockFlagger{}
	d := newTestDecomposer(t, emptyClassifier{}, nil, flagger)
	g := mustGoal(t, "whatever this is")

	descriptors, err := d.Decompose(ctx, g)
	require.NoError(t, err)
	assert.Empty(t, descriptors)
	assert.Contains(t, flagger.flagged[g.ID], "no tasks")
}
