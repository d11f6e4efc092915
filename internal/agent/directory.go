package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for directory operations.
var (
	// ErrNotFound is returned when an agent does not exist.
	ErrNotFound = errors.New("agent not found")
	// ErrNotAvailable is returned when assigning to a non-available agent.
	ErrNotAvailable = errors.New("agent not available")
)

// Directory is the Agent Directory boundary contract.
//
// Assign and Release are the only paths that change busy/available state
// together with CurrentTaskID, so the busy-agent exclusivity invariant is
// enforced in one place.
type Directory interface {
	// Register adds an agent to the directory.
	Register(ctx context.Context, a *Agent) error

	// Get returns the agent by ID.
	Get(ctx context.Context, agentID string) (*Agent, error)

	// ListAvailable returns available agents in the workspace that can
	// serve the capability. An empty capability matches all roles.
	ListAvailable(ctx context.Context, workspaceID, capability string) ([]*Agent, error)

	// Assign marks the agent busy with the given task. Fails if the agent
	// is not available.
	Assign(ctx context.Context, agentID, taskID string) error

	// Release returns the agent to the available pool and clears its task.
	Release(ctx context.Context, agentID string) error

	// SetStatus sets an explicit status (inactive, error). Assign/Release
	// own the available<->busy pair.
	SetStatus(ctx context.Context, agentID string, status Status) error

	// Provision creates and registers a minimal agent for the role.
	// Used by the self-healer when no capable agent exists.
	Provision(ctx context.Context, workspaceID, role string) (*Agent, error)

	// DeleteWorkspace removes all agents in a workspace (cascade path).
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// MemDirectory is a mutex-guarded in-memory Directory.
type MemDirectory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemDirectory creates an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{agents: make(map[string]*Agent)}
}

// Register adds an agent to the directory.
func (d *MemDirectory) Register(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid agent status %q", a.Status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[a.ID]; ok {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	cp := *a
	d.agents[a.ID] = &cp
	return nil
}

// Get returns a copy of the agent by ID.
func (d *MemDirectory) Get(ctx context.Context, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	cp := *a
	return &cp, nil
}

// ListAvailable returns available agents serving the capability.
func (d *MemDirectory) ListAvailable(ctx context.Context, workspaceID, capability string) ([]*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Agent
	for _, a := range d.agents {
		if a.WorkspaceID == workspaceID && a.Status == StatusAvailable && a.CanServe(capability) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Assign marks the agent busy with the given task.
func (d *MemDirectory) Assign(ctx context.Context, agentID, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	if a.Status != StatusAvailable {
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, agentID, a.Status)
	}
	// Exclusivity: no other busy agent may already hold this task.
	for _, other := range d.agents {
		if other.Status == StatusBusy && other.CurrentTaskID == taskID {
			return fmt.Errorf("task %s already held by agent %s", taskID, other.ID)
		}
	}
	a.Status = StatusBusy
	a.CurrentTaskID = taskID
	return nil
}

// Release returns the agent to the available pool.
func (d *MemDirectory) Release(ctx context.Context, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	a.Status = StatusAvailable
	a.CurrentTaskID = ""
	return nil
}

// SetStatus sets an explicit status.
func (d *MemDirectory) SetStatus(ctx context.Context, agentID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	a.Status = status
	if status != StatusBusy {
		a.CurrentTaskID = ""
	}
	return nil
}

// Provision creates and registers a minimal agent for the role.
func (d *MemDirectory) Provision(ctx context.Context, workspaceID, role string) (*Agent, error) {
	a := New(workspaceID, role)
	a.Provisioned = true
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *a
	d.agents[a.ID] = &cp
	return a, nil
}

// DeleteWorkspace removes all agents in a workspace.
func (d *MemDirectory) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, a := range d.agents {
		if a.WorkspaceID == workspaceID {
			delete(d.agents, id)
		}
	}
	return nil
}
