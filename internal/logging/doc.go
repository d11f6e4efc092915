// Package logging provides structured logging for orchd built on Zap.
//
// The Logger wraps *zap.Logger with context-aware methods: every log call
// takes a context.Context and automatically appends correlation fields
// carried in the context (workspace, goal, task, trace/span IDs).
//
// Correlation fields are attached with WithWorkspace, WithGoal and WithTask:
//
//	ctx = logging.WithWorkspace(ctx, "ws-1")
//	ctx = logging.WithTask(ctx, task.ID)
//	logger.Info(ctx, "task dispatched", zap.String("agent_id", agent.ID))
//
// Use NewTestLogger in tests to observe and assert on emitted entries.
package logging
