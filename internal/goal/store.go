package goal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors for goal store operations.
var (
	// ErrNotFound is returned when a goal does not exist.
	ErrNotFound = errors.New("goal not found")
)

// Store is the Goal Store boundary contract.
//
// UpdateProgress is the only mutation path for CurrentValue: it applies a
// delta atomically, caps the result at TargetValue and flips the goal to
// completed when the cap is reached. No caller may set CurrentValue directly.
type Store interface {
	// Create registers a new goal.
	Create(ctx context.Context, g *Goal) error

	// Get returns the goal by ID.
	Get(ctx context.Context, goalID string) (*Goal, error)

	// ListActive returns all active goals in the workspace.
	ListActive(ctx context.Context, workspaceID string) ([]*Goal, error)

	// Workspaces returns the IDs of all workspaces holding goals.
	Workspaces(ctx context.Context) ([]string, error)

	// UpdateProgress applies delta to the goal's current value, capped at
	// the target. Returns the updated goal.
	UpdateProgress(ctx context.Context, goalID string, delta float64) (*Goal, error)

	// SetStatus transitions the goal to the given status.
	SetStatus(ctx context.Context, goalID string, status Status) error

	// FlagNeedsReview marks the goal for human review with a reason.
	FlagNeedsReview(ctx context.Context, goalID, reason string) error

	// DeleteWorkspace removes all goals in a workspace (cascade path).
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// MemStore is a mutex-guarded in-memory Store, the reference implementation
// used by tests and single-process deployments.
type MemStore struct {
	mu    sync.RWMutex
	goals map[string]*Goal
}

// NewMemStore creates an empty in-memory goal store.
func NewMemStore() *MemStore {
	return &MemStore{goals: make(map[string]*Goal)}
}

// Create registers a new goal.
func (s *MemStore) Create(ctx context.Context, g *Goal) error {
	if g.ID == "" {
		return fmt.Errorf("goal ID cannot be empty")
	}
	if !g.Status.Valid() {
		return fmt.Errorf("invalid goal status %q", g.Status)
	}
	if g.CurrentValue < 0 || g.CurrentValue > g.TargetValue {
		return fmt.Errorf("goal %s violates progress invariant: current=%v target=%v",
			g.ID, g.CurrentValue, g.TargetValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; ok {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	cp := *g
	s.goals[g.ID] = &cp
	return nil
}

// Get returns a copy of the goal by ID.
func (s *MemStore) Get(ctx context.Context, goalID string) (*Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, goalID)
	}
	cp := *g
	return &cp, nil
}

// ListActive returns all active goals in the workspace.
func (s *MemStore) ListActive(ctx context.Context, workspaceID string) ([]*Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Goal
	for _, g := range s.goals {
		if g.WorkspaceID == workspaceID && g.Status == StatusActive {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Workspaces returns the IDs of all workspaces holding goals.
func (s *MemStore) Workspaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, g := range s.goals {
		if _, ok := seen[g.WorkspaceID]; !ok {
			seen[g.WorkspaceID] = struct{}{}
			out = append(out, g.WorkspaceID)
		}
	}
	return out, nil
}

// UpdateProgress applies delta atomically, capped at the target.
// Negative results clamp to zero so the invariant holds in both directions.
func (s *MemStore) UpdateProgress(ctx context.Context, goalID string, delta float64) (*Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, goalID)
	}

	next := g.CurrentValue + delta
	if next < 0 {
		next = 0
	}
	if next > g.TargetValue {
		next = g.TargetValue
	}
	g.CurrentValue = next
	g.UpdatedAt = time.Now().UTC()
	if g.CurrentValue >= g.TargetValue && g.Status == StatusActive {
		g.Status = StatusCompleted
	}

	cp := *g
	return &cp, nil
}

// SetStatus transitions the goal to the given status.
func (s *MemStore) SetStatus(ctx context.Context, goalID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid goal status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, goalID)
	}
	g.Status = status
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// FlagNeedsReview marks the goal for human review with a reason.
func (s *MemStore) FlagNeedsReview(ctx context.Context, goalID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, goalID)
	}
	g.NeedsReview = true
	g.ReviewReason = reason
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteWorkspace removes all goals in a workspace.
func (s *MemStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, g := range s.goals {
		if g.WorkspaceID == workspaceID {
			delete(s.goals, id)
		}
	}
	return nil
}
