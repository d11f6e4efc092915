// Package matcher associates deliverables with goals by semantic
// similarity.
//
// Goal descriptions are indexed in the vector store; a deliverable is
// matched to the most similar active goal iff the similarity clears the
// configured threshold. Anything below the threshold lands in the review
// queue. There is no fallback association: an unmatched deliverable is
// never attributed to an arbitrary goal.
package matcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

// goalCollection is the vector store collection holding goal descriptions.
// Workspace isolation is by metadata filter, matching the memory service.
const goalCollection = "orchd_goals"

// searchK bounds how many candidate goals one match considers.
const searchK = 5

// Result describes the outcome of one match attempt.
type Result struct {
	// Matched is true when a goal cleared the threshold.
	Matched bool `json:"matched"`

	// GoalID is the matched goal, empty when Matched is false.
	GoalID string `json:"goal_id,omitempty"`

	// Confidence is the similarity of the best candidate, matched or not.
	Confidence float64 `json:"confidence"`

	// Reason explains a needs_review outcome.
	Reason string `json:"reason,omitempty"`
}

// Matcher indexes goals and matches deliverables against them.
type Matcher struct {
	store        vectorstore.Store
	goals        goal.Store
	deliverables deliverable.Store
	bus          events.Bus
	logger       *logging.Logger
	cfg          config.MatcherConfig
	tracer       string
}

// New creates a Matcher.
func New(store vectorstore.Store, goals goal.Store, deliverables deliverable.Store, bus events.Bus, logger *logging.Logger, cfg config.MatcherConfig) *Matcher {
	if bus == nil {
		bus = events.NoopBus{}
	}
	return &Matcher{
		store:        store,
		goals:        goals,
		deliverables: deliverables,
		bus:          bus,
		logger:       logger.Named("matcher"),
		cfg:          cfg,
		tracer:       "orchd.matcher",
	}
}

// IndexGoal adds or refreshes the goal's description in the vector index.
// Called on goal creation and on description changes.
func (m *Matcher) IndexGoal(ctx context.Context, g *goal.Goal) error {
	if g.Description == "" {
		return fmt.Errorf("goal %s has no description to index", g.ID)
	}
	_, err := m.store.AddDocuments(ctx, []vectorstore.Document{{
		ID:         g.ID,
		Content:    g.Description,
		Collection: goalCollection,
		Metadata: map[string]string{
			"workspace_id": g.WorkspaceID,
		},
	}})
	if err != nil {
		return fmt.Errorf("indexing goal %s: %w", g.ID, err)
	}
	return nil
}

// RemoveGoal drops the goal from the index. Called when a goal leaves the
// active state so completed or cancelled goals stop attracting matches.
func (m *Matcher) RemoveGoal(ctx context.Context, goalID string) error {
	if err := m.store.DeleteDocuments(ctx, goalCollection, []string{goalID}); err != nil {
		return fmt.Errorf("removing goal %s from index: %w", goalID, err)
	}
	return nil
}

// Match evaluates a pending_match deliverable against the workspace's
// indexed goals. A clearing match atomically records the association and
// applies the deliverable's contribution to the goal's progress; anything
// else moves the deliverable to the review queue.
func (m *Matcher) Match(ctx context.Context, d *deliverable.Deliverable) (*Result, error) {
	ctx, span := otel.Tracer(m.tracer).Start(ctx, "matcher.match")
	defer span.End()
	span.SetAttributes(
		attribute.String("deliverable.id", d.ID),
		attribute.String("workspace.id", d.WorkspaceID),
	)
	ctx = logging.WithWorkspace(ctx, d.WorkspaceID)

	if d.Status != deliverable.StatusPendingMatch {
		span.SetStatus(codes.Error, "not pending_match")
		return nil, fmt.Errorf("deliverable %s is %s, only pending_match can be matched", d.ID, d.Status)
	}

	results, err := m.store.Search(ctx, goalCollection, d.Content, searchK, map[string]string{
		"workspace_id": d.WorkspaceID,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching goals for deliverable %s: %w", d.ID, err)
	}

	best, bestScore, err := m.bestActiveCandidate(ctx, results)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if best == nil || bestScore < m.cfg.Threshold {
		reason := "no active goals indexed for workspace"
		if best != nil {
			reason = fmt.Sprintf("best similarity %.3f below threshold %.2f", bestScore, m.cfg.Threshold)
		}
		span.SetStatus(codes.Ok, "")
		return m.sendToReview(ctx, d, bestScore, reason)
	}

	if err := m.recordMatch(ctx, d, best, bestScore); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	matchConfidence.Observe(bestScore)
	matches.WithLabelValues("matched").Inc()
	return &Result{Matched: true, GoalID: best.ID, Confidence: bestScore}, nil
}

// bestActiveCandidate returns the highest-scoring result whose goal is
// still active. Goals that completed or were cancelled since indexing are
// skipped, never matched.
func (m *Matcher) bestActiveCandidate(ctx context.Context, results []vectorstore.SearchResult) (*goal.Goal, float64, error) {
	for _, r := range results {
		g, err := m.goals.Get(ctx, r.ID)
		if err != nil {
			// Stale index entry; drop it and keep looking.
			m.logger.Warn(ctx, "dropping stale goal index entry", zap.String("goal_id", r.ID))
			_ = m.RemoveGoal(ctx, r.ID)
			continue
		}
		if g.Status != goal.StatusActive {
			continue
		}
		return g, float64(r.Score), nil
	}
	return nil, 0, nil
}

// recordMatch applies the match: deliverable marked matched, goal progress
// advanced by the weighted contribution, completed goals retired from the
// index. Progress events are published for consumers.
func (m *Matcher) recordMatch(ctx context.Context, d *deliverable.Deliverable, g *goal.Goal, score float64) error {
	if err := m.deliverables.MarkMatched(ctx, d.ID, g.ID, score); err != nil {
		return fmt.Errorf("marking deliverable %s matched: %w", d.ID, err)
	}

	weight := d.ContributionWeight * m.cfg.ContributionWeight
	updated, err := m.goals.UpdateProgress(ctx, g.ID, weight)
	if err != nil {
		return fmt.Errorf("updating progress for goal %s: %w", g.ID, err)
	}

	m.logger.Info(ctx, "deliverable matched",
		zap.String("deliverable_id", d.ID),
		zap.String("goal_id", g.ID),
		zap.Float64("confidence", score),
		zap.Float64("progress", updated.CurrentValue),
		zap.Float64("target", updated.TargetValue))

	m.publish(ctx, events.GoalProgressChanged{
		GoalID:       updated.ID,
		WorkspaceID:  updated.WorkspaceID,
		CurrentValue: updated.CurrentValue,
		TargetValue:  updated.TargetValue,
		Timestamp:    updated.UpdatedAt,
	})

	if updated.Status == goal.StatusCompleted {
		m.logger.Info(ctx, "goal completed", zap.String("goal_id", updated.ID))
		if err := m.RemoveGoal(ctx, updated.ID); err != nil {
			m.logger.Warn(ctx, "removing completed goal from index",
				zap.String("goal_id", updated.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *Matcher) sendToReview(ctx context.Context, d *deliverable.Deliverable, score float64, reason string) (*Result, error) {
	if err := m.deliverables.MarkNeedsReview(ctx, d.ID, reason, score); err != nil {
		return nil, fmt.Errorf("moving deliverable %s to review: %w", d.ID, err)
	}
	matches.WithLabelValues("needs_review").Inc()
	m.logger.Warn(ctx, "deliverable needs review",
		zap.String("deliverable_id", d.ID),
		zap.String("reason", reason),
		zap.Float64("confidence", score))
	m.publish(ctx, events.DeliverableNeedsReview{
		DeliverableID: d.ID,
		WorkspaceID:   d.WorkspaceID,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
	return &Result{Matched: false, Confidence: score, Reason: reason}, nil
}

func (m *Matcher) publish(ctx context.Context, e events.Event) {
	if err := m.bus.Publish(ctx, e); err != nil {
		m.logger.Warn(ctx, "publishing event", zap.String("subject", e.Subject()), zap.Error(err))
	}
}
