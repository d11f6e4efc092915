// Package agent defines the Agent entity and the Agent Directory contract.
package agent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the availability state of an agent.
type Status string

const (
	// StatusAvailable means the agent can accept a task.
	StatusAvailable Status = "available"
	// StatusBusy means the agent holds exactly one task.
	StatusBusy Status = "busy"
	// StatusInactive means the agent is deliberately out of rotation.
	StatusInactive Status = "inactive"
	// StatusError means the agent failed and needs attention.
	StatusError Status = "error"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusInactive, StatusError:
		return true
	}
	return false
}

// Agent is an execution worker capable of performing tasks.
//
// Exclusivity invariant: a busy agent references exactly one task via
// CurrentTaskID, and no other busy agent may reference the same task.
type Agent struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`

	// Role is the capability tag the agent serves (matches task.Capability).
	Role string `json:"role"`

	Status Status `json:"status"`

	// CurrentTaskID is set while the agent is busy.
	CurrentTaskID string `json:"current_task_id,omitempty"`

	// Provisioned marks agents the self-healer created automatically.
	Provisioned bool `json:"provisioned,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates an available agent with the given role.
func New(workspaceID, role string) *Agent {
	return &Agent{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Role:        role,
		Status:      StatusAvailable,
		CreatedAt:   time.Now().UTC(),
	}
}

// CanServe reports whether the agent satisfies the capability tag.
// An empty capability matches any agent.
func (a *Agent) CanServe(capability string) bool {
	return capability == "" || a.Role == capability
}
