package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

const goodOutput = "The survey reviews twelve primary sources and summarizes the three strongest findings in detail."

type harness struct {
	sched    *scheduler.Scheduler
	dir      *agent.MemDirectory
	exec     *Executor
	breakers *BreakerSet
}

func newHarness(t *testing.T, runner Runner) *harness {
	t.Helper()
	logger := logging.NewTestLogger().Logger
	dir := agent.NewMemDirectory()
	sched := scheduler.New(dir, nil, logger, config.SchedulerConfig{MaxInProgressPerWorkspace: 4})

	g, err := gate.New(config.NewDefaultConfig().Gate, logger)
	require.NoError(t, err)

	breakers := NewBreakerSet(config.BreakerConfig{
		FailureThreshold:   5,
		RecoveryTimeout:    config.Duration(30 * time.Second),
		MaxRecoveryTimeout: config.Duration(10 * time.Minute),
	})
	sched.SetGate(breakers)

	exec := New(runner, sched, dir, g, breakers, logger, config.ExecutorConfig{
		Workers:       1,
		Timeout:       config.Duration(100 * time.Millisecond),
		MaxAttempts:   3,
		BaseDelay:     0, // immediate redispatch in tests
		BackoffFactor: 2.0,
		MaxDelay:      config.Duration(time.Second),
	})
	return &harness{sched: sched, dir: dir, exec: exec, breakers: breakers}
}

func (h *harness) enqueue(t *testing.T, maxAttempts int) *task.Task {
	t.Helper()
	tk := task.New("ws-1", "goal-1", task.Descriptor{
		Name:        "collect sources",
		Priority:    5,
		Capability:  "research",
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, h.sched.Enqueue(context.Background(), tk))
	return tk
}

func (h *harness) dispatch(t *testing.T) *scheduler.DispatchMessage {
	t.Helper()
	msg, err := h.sched.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func TestExecuteSuccessProducesDeliverable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return goodOutput, nil
	}))
	a := agent.New("ws-1", "research")
	require.NoError(t, h.dir.Register(ctx, a))
	tk := h.enqueue(t, 3)

	d, err := h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, tk.ID, d.SourceTaskID)
	assert.Equal(t, "ws-1", d.WorkspaceID)
	assert.Equal(t, goodOutput, d.Content)

	got, err := h.sched.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	released, err := h.dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAvailable, released.Status)
}

func TestExecuteRetriesTransientThenFailsTerminally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return "", fmt.Errorf("worker: %w", ErrAgentUnavailable)
	}))
	a := agent.New("ws-1", "research")
	require.NoError(t, h.dir.Register(ctx, a))
	tk := h.enqueue(t, 3)

	// Attempts one and two requeue, attempt three is terminal.
	for attempt := 1; attempt <= 3; attempt++ {
		d, err := h.exec.Execute(ctx, h.dispatch(t))
		require.NoError(t, err)
		assert.Nil(t, d)

		got, err := h.sched.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.AttemptCount)
		if attempt < 3 {
			assert.Equal(t, task.StatusPending, got.Status)
		} else {
			assert.Equal(t, task.StatusFailed, got.Status)
			assert.Contains(t, got.FailureReason, "attempt 3/3")
		}
	}

	released, err := h.dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAvailable, released.Status)
}

func TestExecutePermanentErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return "", errors.New("unsupported task shape")
	}))
	require.NoError(t, h.dir.Register(ctx, agent.New("ws-1", "research")))
	tk := h.enqueue(t, 3)

	d, err := h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)
	assert.Nil(t, d)

	got, err := h.sched.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.FailureReason, "permanent failure")
}

func TestExecuteTimeoutIsTransient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	require.NoError(t, h.dir.Register(ctx, agent.New("ws-1", "research")))
	tk := h.enqueue(t, 3)

	d, err := h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)
	assert.Nil(t, d)

	got, err := h.sched.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status, "timed out attempt should requeue")
	assert.Equal(t, 1, got.AttemptCount)
}

func TestExecuteGateRejectionRequeuesThenNeedsReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return "TODO write this later", nil
	}))
	require.NoError(t, h.dir.Register(ctx, agent.New("ws-1", "research")))
	tk := h.enqueue(t, 2)

	d, err := h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)
	assert.Nil(t, d)
	got, err := h.sched.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.False(t, got.NeedsReview)

	d, err = h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)
	assert.Nil(t, d)
	got, err = h.sched.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.True(t, got.NeedsReview)
	assert.Contains(t, got.FailureReason, "quality gate")
}

func TestBreakerParksClassAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return "", fmt.Errorf("backend: %w", ErrRateLimited)
	}))
	require.NoError(t, h.dir.Register(ctx, agent.New("ws-1", "research")))

	// Five distinct tasks fail once each; threshold is five.
	for i := 0; i < 5; i++ {
		tk := task.New("ws-1", "goal-1", task.Descriptor{
			Name:        fmt.Sprintf("doomed task %d", i),
			Priority:    5,
			Capability:  "research",
			MaxAttempts: 1,
		})
		require.NoError(t, h.sched.Enqueue(ctx, tk))
		_, err := h.exec.Execute(ctx, h.dispatch(t))
		require.NoError(t, err)
	}
	assert.Equal(t, BreakerOpen, h.breakers.State("ws-1", "research"))

	// New research tasks stay queued while the breaker is open.
	parked := task.New("ws-1", "goal-1", task.Descriptor{
		Name: "parked task", Priority: 5, Capability: "research", MaxAttempts: 3,
	})
	require.NoError(t, h.sched.Enqueue(ctx, parked))
	msg, err := h.sched.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 1, h.sched.QueueDepth())

	// Other classes in the workspace are unaffected.
	require.NoError(t, h.dir.Register(ctx, agent.New("ws-1", "writing")))
	other := task.New("ws-1", "goal-1", task.Descriptor{
		Name: "unrelated writing", Priority: 5, Capability: "writing", MaxAttempts: 3,
	})
	require.NoError(t, h.sched.Enqueue(ctx, other))
	msg, err = h.sched.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "unrelated writing", msg.Task.Name)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", ErrTimeout, true},
		{"wrapped rate limit", fmt.Errorf("x: %w", ErrRateLimited), true},
		{"agent unavailable", ErrAgentUnavailable, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"unknown error", errors.New("boom"), false},
		{"custom transient", transientErr{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

type transientErr struct{}

func (transientErr) Error() string   { return "retriable backend hiccup" }
func (transientErr) Transient() bool { return true }

func TestBackoffCapped(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.cfg.BaseDelay = config.Duration(5 * time.Second)

	assert.Equal(t, 5*time.Second, h.exec.backoff(1))
	assert.Equal(t, 10*time.Second, h.exec.backoff(2))

	h.exec.cfg.MaxDelay = config.Duration(12 * time.Second)
	assert.Equal(t, 12*time.Second, h.exec.backoff(3), "5s * 2^2 capped at max delay")
}

func TestExecuteReleasesAgentOnGateRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, RunnerFunc(func(ctx context.Context, tk *task.Task, a *agent.Agent) (string, error) {
		return strings.Repeat("x", 10), nil // below minimum length
	}))
	a := agent.New("ws-1", "research")
	require.NoError(t, h.dir.Register(ctx, a))
	h.enqueue(t, 3)

	_, err := h.exec.Execute(ctx, h.dispatch(t))
	require.NoError(t, err)

	released, err := h.dir.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAvailable, released.Status)
}
