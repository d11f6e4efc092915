// Package healer detects and remediates stuck orchestration state.
//
// The monitor sweeps on a ticker and checks three conditions: active
// goals with no tasks, pending tasks no agent can serve, and in_progress
// tasks whose executor stopped heartbeating. Every remediation is
// recorded with its reasoning so an operator can audit what the system
// did on its own behalf.
package healer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// Condition identifies a detected anomaly class.
type Condition string

const (
	// ConditionOrphanedGoal is an active goal with no live tasks.
	ConditionOrphanedGoal Condition = "orphaned_goal"
	// ConditionOrphanedTask is a pending task no agent can serve.
	ConditionOrphanedTask Condition = "orphaned_task"
	// ConditionStuckTask is an in_progress task with a stale heartbeat.
	ConditionStuckTask Condition = "stuck_task"
)

// Remediation records one corrective action and its reasoning.
type Remediation struct {
	Condition  Condition `json:"condition"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// maxRetainedRemediations bounds the in-memory audit trail.
const maxRetainedRemediations = 256

// TaskRegistry is the slice of the scheduler the monitor drives.
type TaskRegistry interface {
	Workspaces(ctx context.Context) []string
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*task.Task, error)
	ListByGoal(ctx context.Context, goalID string) ([]*task.Task, error)
	LastHeartbeat(taskID string) (time.Time, bool)
	Fail(ctx context.Context, taskID, reason string) error
	Requeue(ctx context.Context, taskID string, delay time.Duration) error
	FlagNeedsReview(ctx context.Context, taskID, reason string) error
	EnqueueDescriptors(ctx context.Context, workspaceID, goalID string, ds []task.Descriptor) ([]*task.Task, error)
}

// Decomposer re-expands orphaned goals into task descriptors.
type Decomposer interface {
	Decompose(ctx context.Context, g *goal.Goal) ([]task.Descriptor, error)
}

// Monitor is the background health monitor and self-healer.
type Monitor struct {
	goals      goal.Store
	tasks      TaskRegistry
	directory  agent.Directory
	decomposer Decomposer
	logger     *logging.Logger
	cfg        config.HealerConfig

	mu sync.Mutex
	// provisionAttempts counts provisions performed per orphaned task.
	provisionAttempts map[string]int
	remediations      []Remediation
	now               func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a Monitor.
func New(goals goal.Store, tasks TaskRegistry, directory agent.Directory, dec Decomposer, logger *logging.Logger, cfg config.HealerConfig) *Monitor {
	return &Monitor{
		goals:             goals,
		tasks:             tasks,
		directory:         directory,
		decomposer:        dec,
		logger:            logger.Named("healer"),
		cfg:               cfg,
		provisionAttempts: make(map[string]int),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background sweep loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.sweepLoop(ctx)
	m.logger.Info(ctx, "health monitor started",
		zap.Duration("interval", m.cfg.Interval.Duration()))
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()
	<-done
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.Interval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error(ctx, "health sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs all detectors once across all workspaces and returns the
// remediations applied.
func (m *Monitor) Sweep(ctx context.Context) ([]Remediation, error) {
	started := m.now()
	var applied []Remediation

	for _, ws := range m.workspaces(ctx) {
		wsCtx := logging.WithWorkspace(ctx, ws)

		rems, err := m.sweepOrphanedGoals(wsCtx, ws)
		if err != nil {
			return applied, err
		}
		applied = append(applied, rems...)

		rems, err = m.sweepTasks(wsCtx, ws)
		if err != nil {
			return applied, err
		}
		applied = append(applied, rems...)
	}

	m.retain(applied)
	sweepDuration.Observe(m.now().Sub(started).Seconds())
	if len(applied) > 0 {
		m.logger.Info(ctx, "health sweep applied remediations",
			zap.Int("count", len(applied)))
	}
	return applied, nil
}

// workspaces unions workspaces known to the goal store and the task
// registry; either side alone can miss one.
func (m *Monitor) workspaces(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ws string) {
		if _, ok := seen[ws]; !ok {
			seen[ws] = struct{}{}
			out = append(out, ws)
		}
	}
	if goalWs, err := m.goals.Workspaces(ctx); err == nil {
		for _, ws := range goalWs {
			add(ws)
		}
	}
	for _, ws := range m.tasks.Workspaces(ctx) {
		add(ws)
	}
	return out
}

// sweepOrphanedGoals finds active goals past the orphan age with no live
// tasks and re-invokes the decomposer for each, once per sweep.
func (m *Monitor) sweepOrphanedGoals(ctx context.Context, workspaceID string) ([]Remediation, error) {
	goals, err := m.goals.ListActive(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing active goals in %s: %w", workspaceID, err)
	}

	var applied []Remediation
	now := m.now()
	for _, g := range goals {
		if now.Sub(g.CreatedAt) < m.cfg.OrphanGoalAge.Duration() {
			continue
		}
		tasks, err := m.tasks.ListByGoal(ctx, g.ID)
		if err != nil {
			return applied, err
		}
		if hasLiveTask(tasks) {
			continue
		}

		descriptors, err := m.decomposer.Decompose(ctx, g)
		if err != nil {
			m.logger.Error(ctx, "re-decomposing orphaned goal",
				zap.String("goal_id", g.ID), zap.Error(err))
			continue
		}
		admitted, err := m.tasks.EnqueueDescriptors(ctx, g.WorkspaceID, g.ID, descriptors)
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.record(ctx, Remediation{
			Condition:  ConditionOrphanedGoal,
			Action:     "redecompose",
			Target:     g.ID,
			Reason:     fmt.Sprintf("active goal aged %s with no live tasks; enqueued %d", now.Sub(g.CreatedAt).Round(time.Second), len(admitted)),
			Confidence: 0.9,
			Timestamp:  now,
		}))
	}
	return applied, nil
}

// sweepTasks runs the orphaned-task and stuck-task detectors over one
// workspace's tasks.
func (m *Monitor) sweepTasks(ctx context.Context, workspaceID string) ([]Remediation, error) {
	tasks, err := m.tasks.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks in %s: %w", workspaceID, err)
	}

	var applied []Remediation
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			rem, err := m.checkOrphanedTask(ctx, t)
			if err != nil {
				return applied, err
			}
			if rem != nil {
				applied = append(applied, *rem)
			}
		case task.StatusInProgress:
			rem, err := m.checkStuckTask(ctx, t)
			if err != nil {
				return applied, err
			}
			if rem != nil {
				applied = append(applied, *rem)
			}
		}
	}
	return applied, nil
}

// checkOrphanedTask provisions an agent for a pending task that has aged
// past the threshold with no capable available agent. After the
// configured number of provisions the task escalates to review instead.
func (m *Monitor) checkOrphanedTask(ctx context.Context, t *task.Task) (*Remediation, error) {
	now := m.now()
	if t.AttemptCount > 0 || now.Sub(t.CreatedAt) < m.cfg.OrphanTaskAge.Duration() {
		return nil, nil
	}
	available, err := m.directory.ListAvailable(ctx, t.WorkspaceID, t.Capability)
	if err != nil {
		return nil, fmt.Errorf("listing agents for task %s: %w", t.ID, err)
	}
	if len(available) > 0 {
		// An agent exists; the scheduler will get to it.
		return nil, nil
	}

	m.mu.Lock()
	attempts := m.provisionAttempts[t.ID]
	m.mu.Unlock()

	if attempts >= m.cfg.MaxProvisionAttempts {
		reason := fmt.Sprintf("no capable agent for capability %q after %d provision attempts", t.Class(), attempts)
		if err := m.tasks.FlagNeedsReview(ctx, t.ID, reason); err != nil {
			return nil, err
		}
		m.mu.Lock()
		delete(m.provisionAttempts, t.ID)
		m.mu.Unlock()
		rem := m.record(ctx, Remediation{
			Condition:  ConditionOrphanedTask,
			Action:     "flag_needs_review",
			Target:     t.ID,
			Reason:     reason,
			Confidence: 0.8,
			Timestamp:  now,
		})
		return &rem, nil
	}

	a, err := m.directory.Provision(ctx, t.WorkspaceID, t.Class())
	if err != nil {
		return nil, fmt.Errorf("provisioning agent for task %s: %w", t.ID, err)
	}
	m.mu.Lock()
	m.provisionAttempts[t.ID] = attempts + 1
	m.mu.Unlock()

	rem := m.record(ctx, Remediation{
		Condition:  ConditionOrphanedTask,
		Action:     "provision_agent",
		Target:     t.ID,
		Reason:     fmt.Sprintf("pending task aged %s with no capable agent; provisioned %s for %q", now.Sub(t.CreatedAt).Round(time.Second), a.ID, t.Class()),
		Confidence: 0.85,
		Timestamp:  now,
	})
	return &rem, nil
}

// checkStuckTask force-fails an in_progress task whose heartbeat went
// stale, releases its agent and requeues it while attempts remain.
func (m *Monitor) checkStuckTask(ctx context.Context, t *task.Task) (*Remediation, error) {
	now := m.now()
	hb, ok := m.tasks.LastHeartbeat(t.ID)
	if !ok {
		hb = t.LastAttemptAt
	}
	if hb.IsZero() || now.Sub(hb) < m.cfg.StallThreshold.Duration() {
		return nil, nil
	}

	if t.AgentID != "" {
		if err := m.directory.Release(ctx, t.AgentID); err != nil {
			m.logger.Warn(ctx, "releasing agent of stalled task",
				zap.String("agent_id", t.AgentID), zap.Error(err))
		}
	}

	action := "requeue"
	if t.AttemptCount < t.MaxAttempts {
		if err := m.tasks.Requeue(ctx, t.ID, 0); err != nil {
			return nil, err
		}
	} else {
		action = "fail"
		if err := m.tasks.Fail(ctx, t.ID, "stalled"); err != nil {
			return nil, err
		}
	}

	rem := m.record(ctx, Remediation{
		Condition:  ConditionStuckTask,
		Action:     action,
		Target:     t.ID,
		Reason:     fmt.Sprintf("no heartbeat for %s, stall threshold %s", now.Sub(hb).Round(time.Second), m.cfg.StallThreshold.Duration()),
		Confidence: 0.95,
		Timestamp:  now,
	})
	return &rem, nil
}

// hasLiveTask reports whether any task is not cancelled. Completed and
// failed tasks still count as decomposition having happened; only a goal
// whose every task was cancelled (or that never had tasks) is orphaned.
func hasLiveTask(tasks []*task.Task) bool {
	for _, t := range tasks {
		if t.Status != task.StatusCancelled {
			return true
		}
	}
	return false
}

// Remediations returns the retained remediation history, newest last.
func (m *Monitor) Remediations() []Remediation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Remediation, len(m.remediations))
	copy(out, m.remediations)
	return out
}

func (m *Monitor) record(ctx context.Context, rem Remediation) Remediation {
	remediationsApplied.WithLabelValues(string(rem.Condition), rem.Action).Inc()
	m.logger.Warn(ctx, "remediation applied",
		zap.String("condition", string(rem.Condition)),
		zap.String("action", rem.Action),
		zap.String("target", rem.Target),
		zap.String("reason", rem.Reason),
		zap.Float64("confidence", rem.Confidence))
	return rem
}

func (m *Monitor) retain(rems []Remediation) {
	if len(rems) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediations = append(m.remediations, rems...)
	if n := len(m.remediations); n > maxRetainedRemediations {
		m.remediations = m.remediations[n-maxRetainedRemediations:]
	}
}
