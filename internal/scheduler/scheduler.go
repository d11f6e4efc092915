// Package scheduler owns the task registry and the priority dispatch queue.
//
// All task state transitions flow through the Scheduler so the transition
// table, the deduplication index and the per-workspace concurrency cap are
// enforced under a single lock. The executor and the self-healer never
// mutate tasks directly; they call back into the scheduler.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// Sentinel errors for scheduler operations.
var (
	// ErrDuplicateTask is returned when an equivalent non-terminal task
	// already exists (same workspace, goal and normalized name).
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrTaskNotFound is returned when a task ID is unknown.
	ErrTaskNotFound = errors.New("task not found")
)

// DispatchGate decides whether tasks of a class may currently be
// dispatched in a workspace. The executor's circuit breaker set
// implements it; an open breaker keeps its class parked in the queue.
type DispatchGate interface {
	Allow(workspaceID, class string) bool
}

// DispatchMessage pairs a reserved agent with the task it will execute.
// It is the single handoff type between the scheduler and the executor.
type DispatchMessage struct {
	Agent *agent.Agent `json:"agent"`
	Task  *task.Task   `json:"task"`
}

// Scheduler is the mutex-guarded task registry and dispatch queue.
type Scheduler struct {
	directory agent.Directory
	bus       events.Bus
	logger    *logging.Logger
	gate      DispatchGate
	cfg       config.SchedulerConfig

	mu           sync.Mutex
	tasks        map[string]*task.Task
	fingerprints map[string]string // fingerprint -> task ID, non-terminal tasks only
	queue        taskQueue
	heartbeats   map[string]time.Time
	now          func() time.Time
}

// New creates a Scheduler. The gate is optional; nil means every class
// is always dispatchable.
func New(directory agent.Directory, bus events.Bus, logger *logging.Logger, cfg config.SchedulerConfig) *Scheduler {
	if bus == nil {
		bus = events.NoopBus{}
	}
	return &Scheduler{
		directory:    directory,
		bus:          bus,
		logger:       logger.Named("scheduler"),
		cfg:          cfg,
		tasks:        make(map[string]*task.Task),
		fingerprints: make(map[string]string),
		heartbeats:   make(map[string]time.Time),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetGate installs the dispatch gate. Called once during wiring, before
// the orchestrator starts; the executor needs the scheduler and the
// scheduler needs the executor's breaker set.
func (s *Scheduler) SetGate(gate DispatchGate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

// Enqueue admits a pending task into the queue. Equivalent non-terminal
// tasks are rejected with ErrDuplicateTask.
func (s *Scheduler) Enqueue(ctx context.Context, t *task.Task) error {
	if t.ID == "" || t.WorkspaceID == "" {
		return fmt.Errorf("task ID and workspace ID are required")
	}
	if t.Status != task.StatusPending {
		return fmt.Errorf("cannot enqueue task %s in status %s", t.ID, t.Status)
	}
	fp := t.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fingerprints[fp]; ok {
		tasksDeduplicated.Inc()
		return fmt.Errorf("%w: task %s duplicates %s", ErrDuplicateTask, t.ID, existing)
	}
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already registered", t.ID)
	}
	cp := *t
	s.tasks[cp.ID] = &cp
	s.fingerprints[fp] = cp.ID
	heap.Push(&s.queue, &queueItem{
		taskID:    cp.ID,
		priority:  cp.Priority,
		createdAt: cp.CreatedAt,
	})
	tasksEnqueued.Inc()
	queueDepth.Set(float64(s.queue.Len()))

	s.logger.Debug(ctx, "task enqueued",
		zap.String("task_id", cp.ID),
		zap.String("workspace_id", cp.WorkspaceID),
		zap.Int("priority", cp.Priority))
	return nil
}

// EnqueueDescriptors creates and enqueues tasks for the descriptors,
// skipping duplicates. Returns the tasks that were actually admitted.
func (s *Scheduler) EnqueueDescriptors(ctx context.Context, workspaceID, goalID string, ds []task.Descriptor) ([]*task.Task, error) {
	var admitted []*task.Task
	for _, d := range ds {
		t := task.New(workspaceID, goalID, d)
		if err := s.Enqueue(ctx, t); err != nil {
			if errors.Is(err, ErrDuplicateTask) {
				s.logger.Debug(ctx, "skipping duplicate descriptor",
					zap.String("goal_id", goalID),
					zap.String("name", d.Name))
				continue
			}
			return admitted, err
		}
		admitted = append(admitted, t)
	}
	return admitted, nil
}

// Dequeue pops the highest-priority dispatchable task, reserves an agent
// for it and returns the dispatch message. It returns (nil, nil) when
// nothing can be dispatched right now: empty queue, no capable available
// agent, workspace at its concurrency cap, open breaker, or backoff
// delay not yet elapsed. Reservation and the pending -> assigned
// transition happen atomically under the scheduler lock.
func (s *Scheduler) Dequeue(ctx context.Context) (*DispatchMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	items := s.queue.drainOrdered()
	var msg *DispatchMessage
	var dispatchErr error

	for _, item := range items {
		if msg != nil || dispatchErr != nil {
			heap.Push(&s.queue, item)
			continue
		}
		t, ok := s.tasks[item.taskID]
		if !ok || t.Status != task.StatusPending {
			// Cancelled while queued; drop the stale entry.
			continue
		}
		if item.readyAt.After(now) {
			heap.Push(&s.queue, item)
			continue
		}
		if s.gate != nil && !s.gate.Allow(t.WorkspaceID, t.Class()) {
			heap.Push(&s.queue, item)
			continue
		}
		if s.inProgressLocked(t.WorkspaceID) >= s.cfg.MaxInProgressPerWorkspace {
			heap.Push(&s.queue, item)
			continue
		}

		a, err := s.reserveAgentLocked(ctx, t)
		if err != nil {
			dispatchErr = err
			heap.Push(&s.queue, item)
			continue
		}
		if a == nil {
			heap.Push(&s.queue, item)
			continue
		}
		msg = &DispatchMessage{Agent: a, Task: s.copyLocked(t)}
	}
	queueDepth.Set(float64(s.queue.Len()))

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	if msg != nil {
		tasksDispatched.Inc()
		s.logger.Info(ctx, "task dispatched",
			zap.String("task_id", msg.Task.ID),
			zap.String("agent_id", msg.Agent.ID),
			zap.String("workspace_id", msg.Task.WorkspaceID))
	}
	return msg, nil
}

// reserveAgentLocked finds an available capable agent and binds it to the
// task. Returns (nil, nil) when no agent qualifies.
func (s *Scheduler) reserveAgentLocked(ctx context.Context, t *task.Task) (*agent.Agent, error) {
	candidates, err := s.directory.ListAvailable(ctx, t.WorkspaceID, t.Capability)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	for _, a := range candidates {
		if err := s.directory.Assign(ctx, a.ID, t.ID); err != nil {
			if errors.Is(err, agent.ErrNotAvailable) {
				continue
			}
			return nil, fmt.Errorf("assigning agent %s: %w", a.ID, err)
		}
		old := t.Status
		t.AgentID = a.ID
		if err := t.Transition(task.StatusAssigned); err != nil {
			// Roll the reservation back; the task stays pending.
			_ = s.directory.Release(ctx, a.ID)
			t.AgentID = ""
			return nil, err
		}
		s.publishStatusLocked(ctx, t, old)
		a.Status = agent.StatusBusy
		a.CurrentTaskID = t.ID
		return a, nil
	}
	return nil, nil
}

// Start moves an assigned task to in_progress and starts its attempt.
func (s *Scheduler) Start(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	old := t.Status
	if err := t.Transition(task.StatusInProgress); err != nil {
		return err
	}
	t.AttemptCount++
	t.LastAttemptAt = s.now()
	s.heartbeats[taskID] = t.LastAttemptAt
	s.publishStatusLocked(ctx, t, old)
	return nil
}

// Heartbeat records execution liveness for the stall detector.
func (s *Scheduler) Heartbeat(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	s.heartbeats[taskID] = s.now()
	return nil
}

// LastHeartbeat returns the last recorded heartbeat for the task and
// whether one exists.
func (s *Scheduler) LastHeartbeat(taskID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.heartbeats[taskID]
	return hb, ok
}

// Complete marks an in_progress task completed and retires its
// fingerprint so an equivalent task may be scheduled again later.
func (s *Scheduler) Complete(ctx context.Context, taskID string) error {
	return s.finish(ctx, taskID, task.StatusCompleted, "")
}

// Fail terminally fails a task with the given reason.
func (s *Scheduler) Fail(ctx context.Context, taskID, reason string) error {
	return s.finish(ctx, taskID, task.StatusFailed, reason)
}

func (s *Scheduler) finish(ctx context.Context, taskID string, to task.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	old := t.Status
	if err := t.Transition(to); err != nil {
		return err
	}
	if reason != "" {
		t.FailureReason = reason
	}
	delete(s.fingerprints, t.Fingerprint())
	delete(s.heartbeats, taskID)
	s.publishStatusLocked(ctx, t, old)
	tasksFinished.WithLabelValues(string(to)).Inc()
	return nil
}

// Requeue returns an assigned or in_progress task to the pending queue,
// delayed by the given backoff. The agent reservation must already be
// released by the caller.
func (s *Scheduler) Requeue(ctx context.Context, taskID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	old := t.Status
	if err := t.Transition(task.StatusPending); err != nil {
		return err
	}
	delete(s.heartbeats, taskID)
	heap.Push(&s.queue, &queueItem{
		taskID:    t.ID,
		priority:  t.Priority,
		createdAt: t.CreatedAt,
		readyAt:   s.now().Add(delay),
	})
	queueDepth.Set(float64(s.queue.Len()))
	tasksRequeued.Inc()
	s.publishStatusLocked(ctx, t, old)
	s.logger.Debug(ctx, "task requeued",
		zap.String("task_id", t.ID),
		zap.Duration("delay", delay),
		zap.Int("attempt", t.AttemptCount))
	return nil
}

// FlagNeedsReview marks a task for operator attention and terminally
// fails it if it is not already terminal.
func (s *Scheduler) FlagNeedsReview(ctx context.Context, taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	t.NeedsReview = true
	if t.FailureReason == "" {
		t.FailureReason = reason
	}
	if !t.Status.Terminal() {
		old := t.Status
		if err := t.Transition(task.StatusFailed); err != nil {
			return err
		}
		delete(s.fingerprints, t.Fingerprint())
		delete(s.heartbeats, taskID)
		s.queue.remove(taskID)
		s.publishStatusLocked(ctx, t, old)
	}
	return nil
}

// Get returns a copy of the task by ID.
func (s *Scheduler) Get(ctx context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return s.copyLocked(t), nil
}

// ListByGoal returns copies of all tasks belonging to the goal.
func (s *Scheduler) ListByGoal(ctx context.Context, goalID string) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.GoalID == goalID {
			out = append(out, s.copyLocked(t))
		}
	}
	return out, nil
}

// ListByWorkspace returns copies of all tasks in the workspace.
func (s *Scheduler) ListByWorkspace(ctx context.Context, workspaceID string) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.WorkspaceID == workspaceID {
			out = append(out, s.copyLocked(t))
		}
	}
	return out, nil
}

// Workspaces returns the IDs of all workspaces with registered tasks.
func (s *Scheduler) Workspaces(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, t := range s.tasks {
		if _, ok := seen[t.WorkspaceID]; !ok {
			seen[t.WorkspaceID] = struct{}{}
			out = append(out, t.WorkspaceID)
		}
	}
	return out
}

// CancelWorkspace cancels every non-terminal task in the workspace and
// releases any agents they hold. Part of the workspace removal cascade.
func (s *Scheduler) CancelWorkspace(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.WorkspaceID != workspaceID || t.Status.Terminal() {
			continue
		}
		agentID := t.AgentID
		old := t.Status
		if err := t.Transition(task.StatusCancelled); err != nil {
			return err
		}
		if agentID != "" {
			if err := s.directory.Release(ctx, agentID); err != nil && !errors.Is(err, agent.ErrNotFound) {
				s.logger.Warn(ctx, "releasing agent on cancel",
					zap.String("agent_id", agentID), zap.Error(err))
			}
		}
		delete(s.fingerprints, t.Fingerprint())
		delete(s.heartbeats, t.ID)
		s.queue.remove(t.ID)
		s.publishStatusLocked(ctx, t, old)
		tasksFinished.WithLabelValues(string(task.StatusCancelled)).Inc()
	}
	queueDepth.Set(float64(s.queue.Len()))
	s.logger.Info(ctx, "workspace tasks cancelled", zap.String("workspace_id", workspaceID))
	return nil
}

// QueueDepth returns the number of queued pending tasks.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// inProgressLocked counts tasks occupying workspace execution capacity.
// Assigned tasks count too: an assignment becomes in_progress as soon as
// the executor picks the message up.
func (s *Scheduler) inProgressLocked(workspaceID string) int {
	n := 0
	for _, t := range s.tasks {
		if t.WorkspaceID != workspaceID {
			continue
		}
		if t.Status == task.StatusAssigned || t.Status == task.StatusInProgress {
			n++
		}
	}
	return n
}

func (s *Scheduler) copyLocked(t *task.Task) *task.Task {
	cp := *t
	return &cp
}

func (s *Scheduler) publishStatusLocked(ctx context.Context, t *task.Task, old task.Status) {
	err := s.bus.Publish(ctx, events.TaskStatusChanged{
		TaskID:      t.ID,
		WorkspaceID: t.WorkspaceID,
		OldStatus:   string(old),
		NewStatus:   string(t.Status),
		Timestamp:   s.now(),
	})
	if err != nil {
		s.logger.Warn(ctx, "publishing task status event",
			zap.String("task_id", t.ID), zap.Error(err))
	}
}
