// Package deliverable defines validated task output awaiting goal association.
package deliverable

import (
	"time"

	"github.com/google/uuid"
)

// Status is the matching state of a deliverable.
type Status string

const (
	// StatusPendingMatch means the deliverable awaits goal matching.
	StatusPendingMatch Status = "pending_match"
	// StatusMatched means the deliverable was assigned to a goal.
	StatusMatched Status = "matched"
	// StatusNeedsReview means no goal cleared the confidence threshold.
	// The deliverable stays here until explicitly re-evaluated; it is
	// never defaulted to a goal.
	StatusNeedsReview Status = "needs_review"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingMatch, StatusMatched, StatusNeedsReview:
		return true
	}
	return false
}

// Deliverable is the validated output of a task, pending association with
// a goal. GoalID is empty while unmatched; unmatched deliverables live in
// the review queue.
type Deliverable struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	// GoalID is set by the matcher iff MatchConfidence cleared the threshold.
	GoalID string `json:"goal_id,omitempty"`

	// SourceTaskID is the task that produced the content.
	SourceTaskID string `json:"source_task_id"`

	Content string `json:"content"`

	// MatchConfidence is the similarity score of the selected goal (0.0-1.0).
	MatchConfidence float64 `json:"match_confidence"`

	Status Status `json:"status"`

	// ReviewReason explains why the deliverable needs review.
	ReviewReason string `json:"review_reason,omitempty"`

	// ContributionWeight is the progress the deliverable adds to its goal.
	ContributionWeight float64 `json:"contribution_weight"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending_match deliverable from task output.
func New(workspaceID, sourceTaskID, content string, weight float64) *Deliverable {
	if weight <= 0 {
		weight = 1.0
	}
	now := time.Now().UTC()
	return &Deliverable{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		SourceTaskID:       sourceTaskID,
		Content:            content,
		Status:             StatusPendingMatch,
		ContributionWeight: weight,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
