// Package executor drives single task attempts: run, validate, retry.
//
// The executor owns the retry and backoff policy and the per-class
// circuit breaker. Task state changes are delegated back to the
// scheduler so the transition table stays enforced in one place.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// Runner performs the actual agent work for one task attempt and returns
// the raw output content. The worker transport behind it (LLM calls,
// subprocess, remote agent) is the integrator's concern.
type Runner interface {
	Run(ctx context.Context, t *task.Task, a *agent.Agent) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, t *task.Task, a *agent.Agent) (string, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, t *task.Task, a *agent.Agent) (string, error) {
	return f(ctx, t, a)
}

// TaskController is the slice of the scheduler the executor drives.
type TaskController interface {
	Start(ctx context.Context, taskID string) error
	Heartbeat(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string) error
	Fail(ctx context.Context, taskID, reason string) error
	Requeue(ctx context.Context, taskID string, delay time.Duration) error
	FlagNeedsReview(ctx context.Context, taskID, reason string) error
	Get(ctx context.Context, taskID string) (*task.Task, error)
}

// Executor runs dispatched tasks with timeout, retry and breaker policy.
type Executor struct {
	runner    Runner
	control   TaskController
	directory agent.Directory
	gate      *gate.Gate
	breakers  *BreakerSet
	logger    *logging.Logger
	cfg       config.ExecutorConfig
	tracer    string
	now       func() time.Time
}

// New creates an Executor.
func New(runner Runner, control TaskController, directory agent.Directory, g *gate.Gate, breakers *BreakerSet, logger *logging.Logger, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		runner:    runner,
		control:   control,
		directory: directory,
		gate:      g,
		breakers:  breakers,
		logger:    logger.Named("executor"),
		cfg:       cfg,
		tracer:    "orchd.executor",
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Breakers exposes the breaker set for dispatch gating.
func (e *Executor) Breakers() *BreakerSet { return e.breakers }

// Execute runs one attempt of the dispatched task end to end: start,
// run under the hard timeout, gate the output, then settle the attempt
// (complete, requeue with backoff, or terminal failure). The agent is
// always released when the attempt ends.
//
// The returned deliverable is non-nil only when the output passed the
// gate and the task completed. A nil deliverable with a nil error means
// the attempt was retried or terminally failed; the details are on the
// task record.
func (e *Executor) Execute(ctx context.Context, msg *scheduler.DispatchMessage) (*deliverable.Deliverable, error) {
	t, a := msg.Task, msg.Agent
	ctx, span := otel.Tracer(e.tracer).Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.class", t.Class()),
		attribute.String("agent.id", a.ID),
	)
	ctx = logging.WithWorkspace(ctx, t.WorkspaceID)

	if err := e.control.Start(ctx, t.ID); err != nil {
		e.releaseAgent(ctx, a.ID)
		span.SetStatus(codes.Error, "start failed")
		return nil, fmt.Errorf("starting task %s: %w", t.ID, err)
	}
	// Start incremented the attempt counter; read the current record.
	current, err := e.control.Get(ctx, t.ID)
	if err != nil {
		e.releaseAgent(ctx, a.ID)
		return nil, err
	}

	started := e.now()
	output, runErr := e.run(ctx, current, a)
	attemptDuration.Observe(e.now().Sub(started).Seconds())

	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		return nil, e.settleFailure(ctx, current, a, runErr)
	}

	decision := e.gate.Evaluate(ctx, output, current.Name)
	if !decision.Accepted {
		e.logger.Warn(ctx, "output rejected by quality gate",
			zap.String("task_id", current.ID),
			zap.String("reason", decision.Reason))
		return nil, e.settleRejection(ctx, current, a, decision)
	}

	e.breakers.RecordSuccess(current.WorkspaceID, current.Class())
	e.releaseAgent(ctx, a.ID)
	if err := e.control.Complete(ctx, current.ID); err != nil {
		return nil, fmt.Errorf("completing task %s: %w", current.ID, err)
	}
	attempts.WithLabelValues("success").Inc()
	span.SetStatus(codes.Ok, "")

	d := deliverable.New(current.WorkspaceID, current.ID, output, current.ContributionWeight)
	e.logger.Info(ctx, "task completed",
		zap.String("task_id", current.ID),
		zap.String("deliverable_id", d.ID),
		zap.Int("attempt", current.AttemptCount))
	return d, nil
}

// run invokes the runner under the hard timeout, heartbeating while the
// attempt is in flight so the stall detector sees liveness.
func (e *Executor) run(ctx context.Context, t *task.Task, a *agent.Agent) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout.Duration())

	hbDone := make(chan struct{})
	go e.heartbeatLoop(runCtx, t.ID, hbDone)

	output, err := e.runner.Run(runCtx, t, a)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()
	<-hbDone
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %v", ErrTimeout, e.cfg.Timeout.Duration(), err)
		}
		return "", err
	}
	return output, nil
}

func (e *Executor) heartbeatLoop(ctx context.Context, taskID string, done chan<- struct{}) {
	defer close(done)
	interval := e.cfg.Timeout.Duration() / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.control.Heartbeat(ctx, taskID); err != nil {
				return
			}
		}
	}
}

// settleFailure applies the retry policy after a run error. Transient
// errors retry with exponential backoff while attempts remain; anything
// else, or an exhausted retry budget, terminally fails the task.
func (e *Executor) settleFailure(ctx context.Context, t *task.Task, a *agent.Agent, runErr error) error {
	e.breakers.RecordFailure(t.WorkspaceID, t.Class())
	e.releaseAgent(ctx, a.ID)

	transient := IsTransient(runErr)
	if transient && t.AttemptCount < t.MaxAttempts {
		delay := e.backoff(t.AttemptCount)
		attempts.WithLabelValues("retry").Inc()
		e.logger.Warn(ctx, "attempt failed, retrying",
			zap.String("task_id", t.ID),
			zap.Int("attempt", t.AttemptCount),
			zap.Int("max_attempts", t.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(runErr))
		return e.control.Requeue(ctx, t.ID, delay)
	}

	reason := fmt.Sprintf("attempt %d/%d failed: %v", t.AttemptCount, t.MaxAttempts, runErr)
	if !transient {
		reason = fmt.Sprintf("permanent failure: %v", runErr)
	}
	attempts.WithLabelValues("failure").Inc()
	e.logger.Error(ctx, "task failed terminally",
		zap.String("task_id", t.ID),
		zap.Bool("transient", transient),
		zap.Error(runErr))
	return e.control.Fail(ctx, t.ID, reason)
}

// settleRejection handles a quality gate rejection: requeue while
// attempts remain, otherwise flag for review. Gate rejections are
// content problems, not systemic ones, so the breaker is not touched.
func (e *Executor) settleRejection(ctx context.Context, t *task.Task, a *agent.Agent, decision gate.Decision) error {
	e.releaseAgent(ctx, a.ID)
	if t.AttemptCount < t.MaxAttempts {
		attempts.WithLabelValues("rejected_retry").Inc()
		return e.control.Requeue(ctx, t.ID, e.backoff(t.AttemptCount))
	}
	attempts.WithLabelValues("rejected_final").Inc()
	return e.control.FlagNeedsReview(ctx, t.ID,
		fmt.Sprintf("quality gate rejected final attempt: %s", decision.Reason))
}

// backoff computes the retry delay for the given completed attempt
// number, capped at the configured maximum.
func (e *Executor) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.cfg.BaseDelay.Duration()) * math.Pow(e.cfg.BackoffFactor, float64(attempt-1)))
	if max := e.cfg.MaxDelay.Duration(); d > max {
		d = max
	}
	return d
}

func (e *Executor) releaseAgent(ctx context.Context, agentID string) {
	if err := e.directory.Release(ctx, agentID); err != nil {
		e.logger.Warn(ctx, "releasing agent",
			zap.String("agent_id", agentID), zap.Error(err))
	}
}
