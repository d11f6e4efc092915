// Package task defines the Task entity and its lifecycle.
//
// A Task is a unit of executable work derived from a Goal. Tasks move
// through a closed status set; every transition is validated so illegal
// jumps (for example pending -> in_progress without an assignment) are
// rejected at the boundary instead of surfacing as corrupted state later.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task is queued and has no agent.
	StatusPending Status = "pending"
	// StatusAssigned means an agent has been reserved for the task.
	StatusAssigned Status = "assigned"
	// StatusInProgress means the assigned agent is executing the task.
	StatusInProgress Status = "in_progress"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure after exhausted attempts.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal cancellation (workspace removal, operator action).
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the task still occupies queue or agent capacity.
func (s Status) Active() bool {
	return !s.Terminal()
}

// allowedTransitions is the closed transition table.
// A task may only enter in_progress from assigned. Pending and assigned
// tasks may be force-failed by the self-healer when automated handling
// is exhausted.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusFailed, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusPending, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPending, StatusCancelled},
}

// Task is a unit of executable work derived from a Goal.
type Task struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	// GoalID is the originating goal. It is empty only transiently for
	// corrective tasks created by the self-healer before matching.
	GoalID string `json:"goal_id,omitempty"`

	Name string `json:"name"`

	// Capability is the agent capability tag required to execute the task.
	// It doubles as the circuit-breaker class.
	Capability string `json:"capability"`

	// Priority orders dispatch; higher is more urgent.
	Priority int `json:"priority"`

	Status Status `json:"status"`

	// AgentID is set while the task is assigned or in_progress.
	AgentID string `json:"agent_id,omitempty"`

	AttemptCount int `json:"attempt_count"`
	MaxAttempts  int `json:"max_attempts"`

	// ContributionWeight is added to the goal's progress when a deliverable
	// produced by this task is matched.
	ContributionWeight float64 `json:"contribution_weight"`

	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`

	// FailureReason is a human-readable reason recorded at the point of
	// terminal failure or review flagging.
	FailureReason string `json:"failure_reason,omitempty"`

	// NeedsReview marks a task that exhausted automated handling.
	NeedsReview bool `json:"needs_review,omitempty"`
}

// New creates a pending task from a descriptor.
func New(workspaceID, goalID string, d Descriptor) *Task {
	weight := d.ContributionWeight
	if weight <= 0 {
		weight = 1.0
	}
	return &Task{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		GoalID:             goalID,
		Name:               d.Name,
		Capability:         d.Capability,
		Priority:           d.Priority,
		Status:             StatusPending,
		MaxAttempts:        d.MaxAttempts,
		ContributionWeight: weight,
		CreatedAt:          time.Now().UTC(),
	}
}

// Class returns the circuit-breaker class of the task.
func (t *Task) Class() string {
	if t.Capability == "" {
		return "general"
	}
	return t.Capability
}

// Transition moves the task to the next status after validating the
// transition table and the agent invariant: a task that is assigned or
// in_progress must always carry a non-empty AgentID.
func (t *Task) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("invalid task status %q", to)
	}
	allowed := false
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal task transition %s -> %s", t.Status, to)
	}
	if (to == StatusAssigned || to == StatusInProgress) && t.AgentID == "" {
		return fmt.Errorf("task %s cannot be %s without an agent", t.ID, to)
	}
	t.Status = to
	if to == StatusPending {
		// Back to the queue: the agent reservation no longer holds.
		t.AgentID = ""
	}
	return nil
}

// Descriptor describes a candidate task produced by the decomposer or the
// self-healer. The scheduler turns descriptors into Tasks.
type Descriptor struct {
	Name               string  `json:"name"`
	Priority           int     `json:"priority"`
	Capability         string  `json:"capability"`
	MaxAttempts        int     `json:"max_attempts"`
	ContributionWeight float64 `json:"contribution_weight,omitempty"`
}
