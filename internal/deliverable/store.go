package deliverable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a deliverable does not exist.
var ErrNotFound = errors.New("deliverable not found")

// Store persists deliverables and the review queue.
type Store interface {
	// Create registers a new deliverable.
	Create(ctx context.Context, d *Deliverable) error

	// Get returns the deliverable by ID.
	Get(ctx context.Context, id string) (*Deliverable, error)

	// ListPendingMatch returns deliverables awaiting matching in a workspace.
	ListPendingMatch(ctx context.Context, workspaceID string) ([]*Deliverable, error)

	// ListNeedsReview returns the review queue for a workspace.
	ListNeedsReview(ctx context.Context, workspaceID string) ([]*Deliverable, error)

	// MarkMatched records the matched goal and confidence.
	MarkMatched(ctx context.Context, id, goalID string, confidence float64) error

	// MarkNeedsReview moves the deliverable to the review queue with a reason.
	MarkNeedsReview(ctx context.Context, id, reason string, confidence float64) error

	// Requeue returns a needs_review deliverable to pending_match for
	// re-evaluation.
	Requeue(ctx context.Context, id string) error

	// DeleteWorkspace removes all deliverables in a workspace (cascade path).
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// MemStore is a mutex-guarded in-memory Store.
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]*Deliverable
}

// NewMemStore creates an empty in-memory deliverable store.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*Deliverable)}
}

// Create registers a new deliverable.
func (s *MemStore) Create(ctx context.Context, d *Deliverable) error {
	if d.ID == "" {
		return fmt.Errorf("deliverable ID cannot be empty")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid deliverable status %q", d.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; ok {
		return fmt.Errorf("deliverable %s already exists", d.ID)
	}
	cp := *d
	s.byID[d.ID] = &cp
	return nil
}

// Get returns a copy of the deliverable by ID.
func (s *MemStore) Get(ctx context.Context, id string) (*Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) listByStatus(workspaceID string, status Status) []*Deliverable {
	var out []*Deliverable
	for _, d := range s.byID {
		if d.WorkspaceID == workspaceID && d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// ListPendingMatch returns deliverables awaiting matching.
func (s *MemStore) ListPendingMatch(ctx context.Context, workspaceID string) ([]*Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByStatus(workspaceID, StatusPendingMatch), nil
}

// ListNeedsReview returns the review queue.
func (s *MemStore) ListNeedsReview(ctx context.Context, workspaceID string) ([]*Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByStatus(workspaceID, StatusNeedsReview), nil
}

// MarkMatched records the matched goal and confidence.
func (s *MemStore) MarkMatched(ctx context.Context, id, goalID string, confidence float64) error {
	if goalID == "" {
		return fmt.Errorf("matched goal ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.GoalID = goalID
	d.MatchConfidence = confidence
	d.Status = StatusMatched
	d.ReviewReason = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkNeedsReview moves the deliverable to the review queue.
func (s *MemStore) MarkNeedsReview(ctx context.Context, id, reason string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.Status = StatusNeedsReview
	d.ReviewReason = reason
	d.MatchConfidence = confidence
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Requeue returns a needs_review deliverable to pending_match.
func (s *MemStore) Requeue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d.Status != StatusNeedsReview {
		return fmt.Errorf("deliverable %s is %s, only needs_review can be requeued", id, d.Status)
	}
	d.Status = StatusPendingMatch
	d.ReviewReason = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteWorkspace removes all deliverables in a workspace.
func (s *MemStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.byID {
		if d.WorkspaceID == workspaceID {
			delete(s.byID, id)
		}
	}
	return nil
}
