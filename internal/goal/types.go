// Package goal defines the Goal entity and the Goal Store contract.
package goal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a goal.
type Status string

const (
	// StatusActive means the goal is open and accepting progress.
	StatusActive Status = "active"
	// StatusCompleted means current value reached the target.
	StatusCompleted Status = "completed"
	// StatusPaused means the goal is held; no new tasks are decomposed.
	StatusPaused Status = "paused"
	// StatusCancelled means the goal was abandoned.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusPaused, StatusCancelled:
		return true
	}
	return false
}

// MetricType describes how a goal's progress is measured.
type MetricType string

const (
	// MetricDeliverables counts weighted accepted deliverables.
	MetricDeliverables MetricType = "deliverables"
	// MetricTasks counts completed tasks.
	MetricTasks MetricType = "tasks"
	// MetricCustom is an externally defined measure.
	MetricCustom MetricType = "custom"
)

// Goal is a tracked objective with a numeric target and current progress.
//
// CurrentValue is mutated only through Store.UpdateProgress so the
// 0 <= CurrentValue <= TargetValue invariant holds at all times.
type Goal struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Description string     `json:"description"`
	MetricType  MetricType `json:"metric_type"`

	TargetValue  float64 `json:"target_value"`
	CurrentValue float64 `json:"current_value"`

	Status Status `json:"status"`

	// NeedsReview flags a goal the core could not act on automatically,
	// for example when decomposition produced no tasks.
	NeedsReview  bool   `json:"needs_review,omitempty"`
	ReviewReason string `json:"review_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an active goal.
func New(workspaceID, description string, metric MetricType, target float64) (*Goal, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target value must be positive, got %v", target)
	}
	now := time.Now().UTC()
	return &Goal{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Description: description,
		MetricType:  metric,
		TargetValue: target,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Remaining returns how much progress is still required.
func (g *Goal) Remaining() float64 {
	if g.CurrentValue >= g.TargetValue {
		return 0
	}
	return g.TargetValue - g.CurrentValue
}
