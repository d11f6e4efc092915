// Package orchestrator wires the goal-driven pipeline end to end.
//
// Goal intake flows through decomposition into the scheduler; a bounded
// worker pool then drains the queue, executing each dispatched task and
// matching accepted output back to goals. The health monitor runs
// alongside and repairs whatever the pipeline drops.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/decomposer"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/healer"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/matcher"
	"github.com/fyrsmithlabs/orchd/internal/memory"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
)

// workerPollInterval is how long an idle worker waits before polling the
// queue again.
const workerPollInterval = 200 * time.Millisecond

// Orchestrator owns the worker pool and the goal intake path.
type Orchestrator struct {
	goals        goal.Store
	deliverables deliverable.Store
	directory    agent.Directory
	sched        *scheduler.Scheduler
	exec         *executor.Executor
	matcher      *matcher.Matcher
	decomposer   *decomposer.Decomposer
	monitor      *healer.Monitor
	memories     *memory.Service
	logger       *logging.Logger
	workers      int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Deps bundles the orchestrator's collaborators. Memories may be nil;
// everything else is required.
type Deps struct {
	Goals        goal.Store
	Deliverables deliverable.Store
	Directory    agent.Directory
	Scheduler    *scheduler.Scheduler
	Executor     *executor.Executor
	Matcher      *matcher.Matcher
	Decomposer   *decomposer.Decomposer
	Monitor      *healer.Monitor
	Memories     *memory.Service
}

// New creates an Orchestrator.
func New(deps Deps, logger *logging.Logger, cfg config.ExecutorConfig) (*Orchestrator, error) {
	switch {
	case deps.Goals == nil:
		return nil, fmt.Errorf("goal store is required")
	case deps.Deliverables == nil:
		return nil, fmt.Errorf("deliverable store is required")
	case deps.Directory == nil:
		return nil, fmt.Errorf("agent directory is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("scheduler is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Matcher == nil:
		return nil, fmt.Errorf("matcher is required")
	case deps.Decomposer == nil:
		return nil, fmt.Errorf("decomposer is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		goals:        deps.Goals,
		deliverables: deps.Deliverables,
		directory:    deps.Directory,
		sched:        deps.Scheduler,
		exec:         deps.Executor,
		matcher:      deps.Matcher,
		decomposer:   deps.Decomposer,
		monitor:      deps.Monitor,
		memories:     deps.Memories,
		logger:       logger.Named("orchestrator"),
		workers:      workers,
	}, nil
}

// CreateGoal registers a goal, indexes it for matching and enqueues its
// decomposed tasks. The goal is created even when decomposition yields
// nothing; the decomposer flags it for review in that case.
func (o *Orchestrator) CreateGoal(ctx context.Context, workspaceID, description string, metric goal.MetricType, target float64) (*goal.Goal, error) {
	g, err := goal.New(workspaceID, description, metric, target)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkspace(ctx, workspaceID)

	if err := o.goals.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("creating goal: %w", err)
	}
	if err := o.matcher.IndexGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("indexing goal: %w", err)
	}

	descriptors, err := o.decomposer.Decompose(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("decomposing goal: %w", err)
	}
	admitted, err := o.sched.EnqueueDescriptors(ctx, g.WorkspaceID, g.ID, descriptors)
	if err != nil {
		return nil, fmt.Errorf("enqueueing tasks: %w", err)
	}

	o.logger.Info(ctx, "goal created",
		zap.String("goal_id", g.ID),
		zap.Float64("target", g.TargetValue),
		zap.Int("tasks", len(admitted)))
	return g, nil
}

// Start launches the worker pool and the health monitor. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(runCtx, i)
	}
	if o.monitor != nil {
		o.monitor.Start(runCtx)
	}
	o.logger.Info(ctx, "orchestrator started", zap.Int("workers", o.workers))
}

// Stop shuts the pool down gracefully: workers finish their in-flight
// task, then exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	if o.monitor != nil {
		o.monitor.Stop()
	}
}

// worker drains the dispatch queue until the context ends.
func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	logger := o.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := o.sched.Dequeue(ctx)
		if err != nil {
			logger.Error(ctx, "dequeue failed", zap.Error(err))
			o.idle(ctx)
			continue
		}
		if msg == nil {
			o.idle(ctx)
			continue
		}
		o.process(ctx, msg)
	}
}

func (o *Orchestrator) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(workerPollInterval):
	}
}

// process runs one dispatch message through execute, match and memory.
func (o *Orchestrator) process(ctx context.Context, msg *scheduler.DispatchMessage) {
	ctx = logging.WithTask(ctx, msg.Task.ID)

	d, err := o.exec.Execute(ctx, msg)
	if err != nil {
		o.logger.Error(ctx, "executing task", zap.Error(err))
		return
	}
	if d == nil {
		// Attempt retried or failed; the executor settled the task.
		return
	}

	if err := o.deliverables.Create(ctx, d); err != nil {
		o.logger.Error(ctx, "storing deliverable", zap.Error(err))
		return
	}
	res, err := o.matcher.Match(ctx, d)
	if err != nil {
		o.logger.Error(ctx, "matching deliverable", zap.Error(err))
		return
	}
	o.remember(ctx, d, res)
}

// remember appends the match outcome to the workspace memory so later
// decisions can recall it. Best effort; memory is advisory.
func (o *Orchestrator) remember(ctx context.Context, d *deliverable.Deliverable, res *matcher.Result) {
	if o.memories == nil {
		return
	}
	key := fmt.Sprintf("deliverable:%s", d.ID)
	payload := fmt.Sprintf("deliverable from task %s matched goal %s with confidence %.3f", d.SourceTaskID, res.GoalID, res.Confidence)
	importance := res.Confidence
	if !res.Matched {
		payload = fmt.Sprintf("deliverable from task %s sent to review: %s", d.SourceTaskID, res.Reason)
		importance = 0.3
	}
	if _, err := o.memories.Append(ctx, d.WorkspaceID, key, payload, importance, 0); err != nil {
		o.logger.Warn(ctx, "appending memory", zap.Error(err))
	}
}

// RemoveWorkspace cascades a workspace removal: tasks cancelled, goals
// de-indexed and deleted, deliverables, agents, memory entries and
// breaker state dropped.
func (o *Orchestrator) RemoveWorkspace(ctx context.Context, workspaceID string) error {
	ctx = logging.WithWorkspace(ctx, workspaceID)

	if err := o.sched.CancelWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("cancelling tasks: %w", err)
	}
	active, err := o.goals.ListActive(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("listing goals: %w", err)
	}
	for _, g := range active {
		if err := o.matcher.RemoveGoal(ctx, g.ID); err != nil {
			o.logger.Warn(ctx, "removing goal from index",
				zap.String("goal_id", g.ID), zap.Error(err))
		}
	}
	if err := o.goals.DeleteWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("deleting goals: %w", err)
	}
	if err := o.deliverables.DeleteWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("deleting deliverables: %w", err)
	}
	if err := o.directory.DeleteWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("deleting agents: %w", err)
	}
	if o.memories != nil {
		if err := o.memories.DeleteWorkspace(ctx, workspaceID); err != nil {
			return fmt.Errorf("deleting memories: %w", err)
		}
	}
	o.exec.Breakers().RemoveWorkspace(workspaceID)
	o.logger.Info(ctx, "workspace removed")
	return nil
}
