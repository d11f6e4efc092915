// Package events publishes orchestration lifecycle events for UI and
// observability consumers.
//
// Delivery is at-least-once: consumers must deduplicate by
// (entity ID, timestamp). Publishing failures are logged, never propagated
// into the orchestration loop.
package events

import (
	"context"
	"time"
)

// Event is the common envelope for all published events.
type Event interface {
	// Subject returns the subject suffix the event is published on.
	Subject() string
}

// TaskStatusChanged is emitted on every task status transition.
type TaskStatusChanged struct {
	TaskID      string    `json:"task_id"`
	WorkspaceID string    `json:"workspace_id"`
	OldStatus   string    `json:"old_status"`
	NewStatus   string    `json:"new_status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Subject implements Event.
func (TaskStatusChanged) Subject() string { return "task.status" }

// GoalProgressChanged is emitted when a goal's current value moves.
type GoalProgressChanged struct {
	GoalID       string    `json:"goal_id"`
	WorkspaceID  string    `json:"workspace_id"`
	CurrentValue float64   `json:"current_value"`
	TargetValue  float64   `json:"target_value"`
	Timestamp    time.Time `json:"timestamp"`
}

// Subject implements Event.
func (GoalProgressChanged) Subject() string { return "goal.progress" }

// DeliverableNeedsReview is emitted when a deliverable lands in the
// review queue.
type DeliverableNeedsReview struct {
	DeliverableID string    `json:"deliverable_id"`
	WorkspaceID   string    `json:"workspace_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// Subject implements Event.
func (DeliverableNeedsReview) Subject() string { return "deliverable.review" }

// Bus publishes events to downstream consumers.
type Bus interface {
	// Publish sends the event. Implementations must not block the
	// orchestration loop on consumer speed.
	Publish(ctx context.Context, event Event) error

	// Close releases the underlying connection.
	Close() error
}

// NoopBus discards all events. Used when the event bus is disabled.
type NoopBus struct{}

// Publish implements Bus.
func (NoopBus) Publish(ctx context.Context, event Event) error { return nil }

// Close implements Bus.
func (NoopBus) Close() error { return nil }
