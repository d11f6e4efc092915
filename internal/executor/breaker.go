package executor

import (
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/config"
)

// BreakerState is the lifecycle state of one circuit breaker.
type BreakerState string

const (
	// BreakerClosed means tasks of the class flow normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means the class is parked until the recovery timeout.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen means a single probe attempt is allowed through.
	BreakerHalfOpen BreakerState = "half_open"
)

// breaker tracks consecutive failures for one (workspace, class) pair.
type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	timeout  time.Duration

	// probing is set once the half-open probe has been admitted, so only
	// one attempt goes through per half-open window. probeAt records when
	// it was admitted so a probe whose outcome never arrives does not
	// park the class forever.
	probing bool
	probeAt time.Time
}

// BreakerSet holds one circuit breaker per (workspace, task class) pair.
// Repeated failures of a class are systemic, not task-specific, so the
// whole class is parked rather than burning retry budgets task by task.
//
// BreakerSet implements the scheduler's dispatch gate.
type BreakerSet struct {
	cfg config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*breaker
	now      func() time.Time
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(cfg config.BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func breakerKey(workspaceID, class string) string {
	return workspaceID + "/" + class
}

func (s *BreakerSet) get(workspaceID, class string) *breaker {
	key := breakerKey(workspaceID, class)
	b, ok := s.breakers[key]
	if !ok {
		b = &breaker{state: BreakerClosed, timeout: s.cfg.RecoveryTimeout.Duration()}
		s.breakers[key] = b
	}
	return b
}

// Allow reports whether a task of the class may be dispatched. An open
// breaker whose recovery timeout has elapsed moves to half-open and
// admits one probe per recovery-timeout window. A probe whose result
// never arrives (attempt lost before it started, process death) stops
// blocking once the window elapses and a fresh probe is admitted.
func (s *BreakerSet) Allow(workspaceID, class string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(workspaceID, class)
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if s.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		b.probeAt = s.now()
		s.setStateMetric(workspaceID, class, b.state)
		return true
	case BreakerHalfOpen:
		if b.probing && s.now().Sub(b.probeAt) < b.timeout {
			return false
		}
		b.probing = true
		b.probeAt = s.now()
		return true
	}
	return true
}

// RecordSuccess reports a successful attempt. A half-open probe success
// closes the breaker and resets its recovery timeout.
func (s *BreakerSet) RecordSuccess(workspaceID, class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(workspaceID, class)
	b.failures = 0
	if b.state != BreakerClosed {
		b.state = BreakerClosed
		b.timeout = s.cfg.RecoveryTimeout.Duration()
		b.probing = false
		s.setStateMetric(workspaceID, class, b.state)
	}
}

// RecordFailure reports a failed attempt. Reaching the failure threshold
// opens the breaker; a half-open probe failure reopens it with a doubled
// recovery timeout, capped at the configured maximum.
func (s *BreakerSet) RecordFailure(workspaceID, class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(workspaceID, class)
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= s.cfg.FailureThreshold {
			s.openLocked(workspaceID, class, b, b.timeout)
		}
	case BreakerHalfOpen:
		next := b.timeout * 2
		if max := s.cfg.MaxRecoveryTimeout.Duration(); next > max {
			next = max
		}
		s.openLocked(workspaceID, class, b, next)
	case BreakerOpen:
		// Late result from an attempt dispatched before the breaker
		// opened; nothing to update.
	}
}

func (s *BreakerSet) openLocked(workspaceID, class string, b *breaker, timeout time.Duration) {
	b.state = BreakerOpen
	b.openedAt = s.now()
	b.timeout = timeout
	b.failures = 0
	b.probing = false
	breakerOpens.WithLabelValues(class).Inc()
	s.setStateMetric(workspaceID, class, b.state)
}

// RemoveWorkspace drops all breaker state for the workspace, cascade
// path for workspace removal. Without it the set grows without bound
// across workspace churn.
func (s *BreakerSet) RemoveWorkspace(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := workspaceID + "/"
	for key := range s.breakers {
		if strings.HasPrefix(key, prefix) {
			delete(s.breakers, key)
			breakerState.DeleteLabelValues(workspaceID, strings.TrimPrefix(key, prefix))
		}
	}
}

// State returns the current state of the breaker for the pair.
func (s *BreakerSet) State(workspaceID, class string) BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(workspaceID, class).state
}

func (s *BreakerSet) setStateMetric(workspaceID, class string, state BreakerState) {
	v := 0.0
	switch state {
	case BreakerOpen:
		v = 1.0
	case BreakerHalfOpen:
		v = 0.5
	}
	breakerState.WithLabelValues(workspaceID, class).Set(v)
}
