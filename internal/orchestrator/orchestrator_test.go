package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/decomposer"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/embeddings"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/healer"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/matcher"
	"github.com/fyrsmithlabs/orchd/internal/memory"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
	"github.com/fyrsmithlabs/orchd/internal/task"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

type stack struct {
	orch         *Orchestrator
	goals        *goal.MemStore
	deliverables *deliverable.MemStore
	dir          *agent.MemDirectory
	sched        *scheduler.Scheduler
	memories     *memory.Service
	breakers     *executor.BreakerSet
}

// echoRunner returns the task name as output: long enough for the gate
// and lexically close to the goal description for the matcher.
var echoRunner = executor.RunnerFunc(func(ctx context.Context, t *task.Task, a *agent.Agent) (string, error) {
	return t.Name, nil
})

func newStack(t *testing.T, runner executor.Runner) *stack {
	t.Helper()
	logger := logging.NewTestLogger().Logger
	defaults := config.NewDefaultConfig()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, embeddings.NewHashProvider(0), nil)
	require.NoError(t, err)

	goals := goal.NewMemStore()
	deliverables := deliverable.NewMemStore()
	dir := agent.NewMemDirectory()
	sched := scheduler.New(dir, events.NoopBus{}, logger, defaults.Scheduler)

	g, err := gate.New(defaults.Gate, logger)
	require.NoError(t, err)
	breakers := executor.NewBreakerSet(defaults.Breaker)
	sched.SetGate(breakers)

	exec := executor.New(runner, sched, dir, g, breakers, logger, config.ExecutorConfig{
		Workers:       2,
		Timeout:       config.Duration(time.Second),
		MaxAttempts:   3,
		BaseDelay:     0,
		BackoffFactor: 2.0,
		MaxDelay:      config.Duration(time.Second),
	})

	m := matcher.New(store, goals, deliverables, events.NoopBus{}, logger, defaults.Matcher)

	dec, err := decomposer.New(decomposer.NewRuleClassifier(), sched, goals, decomposer.Config{
		BasePriority: 5,
		MaxAttempts:  3,
	}, logger)
	require.NoError(t, err)

	memories, err := memory.NewService(store, memory.Config{}, nil)
	require.NoError(t, err)

	monitor := healer.New(goals, sched, dir, dec, logger, defaults.Healer)

	orch, err := New(Deps{
		Goals:        goals,
		Deliverables: deliverables,
		Directory:    dir,
		Scheduler:    sched,
		Executor:     exec,
		Matcher:      m,
		Decomposer:   dec,
		Monitor:      monitor,
		Memories:     memories,
	}, logger, config.ExecutorConfig{Workers: 2})
	require.NoError(t, err)

	return &stack{
		orch:         orch,
		goals:        goals,
		deliverables: deliverables,
		dir:          dir,
		sched:        sched,
		memories:     memories,
		breakers:     breakers,
	}
}

func TestPipelineCompletesGoal(t *testing.T) {
	s := newStack(t, echoRunner)
	ctx := context.Background()

	require.NoError(t, s.dir.Register(ctx, agent.New("ws-1", "research")))
	require.NoError(t, s.dir.Register(ctx, agent.New("ws-1", "research")))

	g, err := s.orch.CreateGoal(ctx, "ws-1",
		"research the marine biology literature and collect sources",
		goal.MetricDeliverables, 1.0)
	require.NoError(t, err)

	tasks, err := s.sched.ListByGoal(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "research goals decompose into collect and synthesize")

	s.orch.Start(ctx)
	defer s.orch.Stop()

	require.Eventually(t, func() bool {
		got, err := s.goals.Get(ctx, g.ID)
		return err == nil && got.Status == goal.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond, "goal should complete once both deliverables match")

	got, err := s.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, got.TargetValue, got.CurrentValue)

	for _, tk := range tasks {
		final, err := s.sched.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, final.Status)
	}

	// Both agents returned to the pool.
	available, err := s.dir.ListAvailable(ctx, "ws-1", "research")
	require.NoError(t, err)
	assert.Len(t, available, 2)

	// The match outcomes were remembered.
	recalled, err := s.memories.Recall(ctx, "ws-1", "marine biology deliverable", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, recalled)
}

func TestPipelineSendsUnrelatedOutputToReview(t *testing.T) {
	unrelated := strings.Repeat("quarterly spreadsheet reconciliation entry. ", 3)
	s := newStack(t, executor.RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return unrelated, nil
	}))
	ctx := context.Background()

	require.NoError(t, s.dir.Register(ctx, agent.New("ws-1", "research")))
	require.NoError(t, s.dir.Register(ctx, agent.New("ws-1", "research")))

	g, err := s.orch.CreateGoal(ctx, "ws-1",
		"research the marine biology literature and collect sources",
		goal.MetricDeliverables, 1.0)
	require.NoError(t, err)

	s.orch.Start(ctx)
	defer s.orch.Stop()

	require.Eventually(t, func() bool {
		review, err := s.deliverables.ListNeedsReview(ctx, "ws-1")
		return err == nil && len(review) == 2
	}, 10*time.Second, 50*time.Millisecond)

	// No guessing: progress untouched, goal still active.
	got, err := s.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentValue)
	assert.Equal(t, goal.StatusActive, got.Status)

	review, err := s.deliverables.ListNeedsReview(ctx, "ws-1")
	require.NoError(t, err)
	for _, d := range review {
		assert.Empty(t, d.GoalID)
		assert.Contains(t, d.ReviewReason, "threshold")
	}
}

func TestCreateGoalIsIdempotentPerGoal(t *testing.T) {
	s := newStack(t, echoRunner)
	ctx := context.Background()

	g, err := s.orch.CreateGoal(ctx, "ws-1",
		"research the marine biology literature and collect sources",
		goal.MetricDeliverables, 1.0)
	require.NoError(t, err)

	// A second goal with the same description gets its own tasks; same
	// names under a different goal are not duplicates.
	g2, err := s.orch.CreateGoal(ctx, "ws-1",
		"research the marine biology literature and collect sources",
		goal.MetricDeliverables, 1.0)
	require.NoError(t, err)

	first, err := s.sched.ListByGoal(ctx, g.ID)
	require.NoError(t, err)
	second, err := s.sched.ListByGoal(ctx, g2.ID)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	assert.Len(t, second, 2)
}

func TestRemoveWorkspaceCascades(t *testing.T) {
	s := newStack(t, echoRunner)
	ctx := context.Background()

	require.NoError(t, s.dir.Register(ctx, agent.New("ws-1", "research")))
	g, err := s.orch.CreateGoal(ctx, "ws-1",
		"research the marine biology literature and collect sources",
		goal.MetricDeliverables, 1.0)
	require.NoError(t, err)

	d := deliverable.New("ws-1", "task-x", "some accepted output that was stored earlier on", 1.0)
	require.NoError(t, s.deliverables.Create(ctx, d))

	_, err = s.memories.Append(ctx, "ws-1", "lesson", "sources were gathered from three journals", 0.8, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.breakers.RecordFailure("ws-1", "research")
	}
	require.False(t, s.breakers.Allow("ws-1", "research"))

	require.NoError(t, s.orch.RemoveWorkspace(ctx, "ws-1"))

	_, err = s.goals.Get(ctx, g.ID)
	assert.ErrorIs(t, err, goal.ErrNotFound)

	tasks, err := s.sched.ListByGoal(ctx, g.ID)
	require.NoError(t, err)
	for _, tk := range tasks {
		assert.Equal(t, task.StatusCancelled, tk.Status)
	}

	_, err = s.deliverables.Get(ctx, d.ID)
	assert.ErrorIs(t, err, deliverable.ErrNotFound)

	agents, err := s.dir.ListAvailable(ctx, "ws-1", "")
	require.NoError(t, err)
	assert.Empty(t, agents)

	// Memory entries do not wait out their TTL.
	recalled, err := s.memories.Recall(ctx, "ws-1", "what did we learn about sources", 5)
	require.NoError(t, err)
	assert.Empty(t, recalled)

	// Breaker state is dropped with the workspace.
	assert.True(t, s.breakers.Allow("ws-1", "research"))
}

func TestStartStopIdempotent(t *testing.T) {
	s := newStack(t, echoRunner)
	ctx := context.Background()

	s.orch.Start(ctx)
	s.orch.Start(ctx)
	s.orch.Stop()
	s.orch.Stop()
}
