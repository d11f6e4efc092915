package executor

import (
	"context"
	"errors"
)

// Sentinel errors runners return to signal retriable conditions. Anything
// not on this allow-list is treated as a permanent failure.
var (
	// ErrTimeout signals the attempt exceeded its execution deadline.
	ErrTimeout = errors.New("execution timed out")
	// ErrRateLimited signals the backing worker rejected the attempt due
	// to rate limiting.
	ErrRateLimited = errors.New("rate limited")
	// ErrAgentUnavailable signals a temporary agent-side outage.
	ErrAgentUnavailable = errors.New("agent temporarily unavailable")
)

// transienter lets runner-defined error types opt into retry handling.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether the error is retriable. Classification is
// by explicit allow-list; unknown errors are permanent so a broken runner
// cannot loop forever on retries.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAgentUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
