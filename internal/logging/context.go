package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type workspaceCtxKey struct{}
type goalCtxKey struct{}
type taskCtxKey struct{}

// WithWorkspace attaches a workspace ID to the context for log correlation.
func WithWorkspace(ctx context.Context, workspaceID string) context.Context {
	if workspaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, workspaceCtxKey{}, workspaceID)
}

// WithGoal attaches a goal ID to the context for log correlation.
func WithGoal(ctx context.Context, goalID string) context.Context {
	if goalID == "" {
		return ctx
	}
	return context.WithValue(ctx, goalCtxKey{}, goalID)
}

// WithTask attaches a task ID to the context for log correlation.
func WithTask(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// WorkspaceFromContext returns the workspace ID from context, or "".
func WorkspaceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workspaceCtxKey{}).(string)
	return id
}

// GoalFromContext returns the goal ID from context, or "".
func GoalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(goalCtxKey{}).(string)
	return id
}

// TaskFromContext returns the task ID from context, or "".
func TaskFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if ws := WorkspaceFromContext(ctx); ws != "" {
		fields = append(fields, zap.String("workspace_id", ws))
	}
	if goalID := GoalFromContext(ctx); goalID != "" {
		fields = append(fields, zap.String("goal_id", goalID))
	}
	if taskID := TaskFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task_id", taskID))
	}

	return fields
}
