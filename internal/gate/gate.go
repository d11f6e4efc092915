// Package gate validates raw task output before it becomes a deliverable.
//
// The gate is deliberately mechanical: pattern checks, length checks and
// structural well-formedness. It never errors on malformed input; bad
// input is a rejection with a reason, not a failure of the gate itself.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/logging"
)

// Decision is the outcome of a gate evaluation.
type Decision struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Gate evaluates task output quality.
type Gate struct {
	minLength int
	rejects   []*regexp.Regexp
	logger    *logging.Logger
}

// New creates a Gate from configuration. Invalid reject patterns are a
// configuration error, surfaced at construction rather than per output.
func New(cfg config.GateConfig, logger *logging.Logger) (*Gate, error) {
	rejects := make([]*regexp.Regexp, 0, len(cfg.RejectPatterns))
	for _, p := range cfg.RejectPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling reject pattern %q: %w", p, err)
		}
		rejects = append(rejects, re)
	}
	return &Gate{
		minLength: cfg.MinContentLength,
		rejects:   rejects,
		logger:    logger.Named("gate"),
	}, nil
}

// Evaluate checks the content against the reject patterns, the minimum
// length and structural well-formedness. Content that presents as JSON
// must parse as JSON. goalContext carries the description of the work
// the content is for; the syntactic checks do not consult it, but the
// boundary keeps it so content-aware gates can slot in behind the same
// signature.
func (g *Gate) Evaluate(ctx context.Context, content, goalContext string) Decision {
	trimmed := strings.TrimSpace(content)

	if trimmed == "" {
		return g.reject(ctx, "empty content", 1.0)
	}
	for _, re := range g.rejects {
		if re.MatchString(trimmed) {
			return g.reject(ctx, fmt.Sprintf("matched reject pattern %q", re.String()), 0.95)
		}
	}
	if len(trimmed) < g.minLength {
		return g.reject(ctx, fmt.Sprintf("content length %d below minimum %d", len(trimmed), g.minLength), 0.9)
	}
	if presentsAsJSON(trimmed) && !json.Valid([]byte(trimmed)) {
		return g.reject(ctx, "content presents as JSON but does not parse", 0.9)
	}

	confidence := 1.0
	if len(trimmed) < g.minLength*2 {
		// Barely cleared the bar; flag lower confidence for consumers.
		confidence = 0.7
	}
	decisions.WithLabelValues("accepted").Inc()
	return Decision{Accepted: true, Confidence: confidence}
}

func (g *Gate) reject(ctx context.Context, reason string, confidence float64) Decision {
	decisions.WithLabelValues("rejected").Inc()
	g.logger.Debug(ctx, "output rejected", zap.String("reason", reason))
	return Decision{Accepted: false, Confidence: confidence, Reason: reason}
}

// presentsAsJSON reports whether the content claims to be a JSON document.
func presentsAsJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}
