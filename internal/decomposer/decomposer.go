package decomposer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// TaskLister reports existing tasks for a goal. The scheduler implements
// this; the decomposer uses it for its idempotence check.
type TaskLister interface {
	// ListByGoal returns all tasks (any status) created for the goal.
	ListByGoal(ctx context.Context, goalID string) ([]*task.Task, error)
}

// GoalFlagger flags goals that need human review.
type GoalFlagger interface {
	FlagNeedsReview(ctx context.Context, goalID, reason string) error
}

// Config controls descriptor generation.
type Config struct {
	// BasePriority seeds task priority; templates add offsets on top.
	BasePriority int
	// MaxAttempts is carried onto every generated descriptor.
	MaxAttempts int
}

// Decomposer expands a Goal into candidate task descriptors.
//
// Decompose is idempotent per goal: when the goal already has at least one
// non-cancelled task, re-invocation is a no-op. A goal that yields zero
// descriptors is flagged needs_review instead of being silently left
// without tasks.
type Decomposer struct {
	classifier Classifier
	tasks      TaskLister
	flagger    GoalFlagger
	config     Config
	logger     *logging.Logger
}

// descriptorTemplate expands into one task descriptor per goal.
type descriptorTemplate struct {
	nameFormat     string
	priorityOffset int
	weight         float64
}

// categoryTemplates defines the work breakdown per category.
var categoryTemplates = map[Category][]descriptorTemplate{
	CategoryResearch: {
		{nameFormat: "Collect findings: %s", priorityOffset: 2, weight: 0.4},
		{nameFormat: "Synthesize summary: %s", priorityOffset: 1, weight: 0.6},
	},
	CategoryWriting: {
		{nameFormat: "Draft content: %s", priorityOffset: 2, weight: 0.7},
		{nameFormat: "Edit and finalize: %s", priorityOffset: 1, weight: 0.3},
	},
	CategoryAnalysis: {
		{nameFormat: "Prepare data: %s", priorityOffset: 2, weight: 0.4},
		{nameFormat: "Analyze and report: %s", priorityOffset: 1, weight: 0.6},
	},
	CategoryEngineering: {
		{nameFormat: "Implement: %s", priorityOffset: 2, weight: 0.7},
		{nameFormat: "Verify and ship: %s", priorityOffset: 1, weight: 0.3},
	},
	CategoryOutreach: {
		{nameFormat: "Prepare outreach: %s", priorityOffset: 1, weight: 0.5},
		{nameFormat: "Execute outreach: %s", priorityOffset: 0, weight: 0.5},
	},
	CategoryGeneral: {
		{nameFormat: "Work toward: %s", priorityOffset: 0, weight: 1.0},
	},
}

// New creates a decomposer. All collaborators are required.
func New(classifier Classifier, tasks TaskLister, flagger GoalFlagger, cfg Config, logger *logging.Logger) (*Decomposer, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task lister cannot be nil")
	}
	if flagger == nil {
		return nil, fmt.Errorf("goal flagger cannot be nil")
	}
	if cfg.BasePriority <= 0 {
		cfg.BasePriority = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Decomposer{
		classifier: classifier,
		tasks:      tasks,
		flagger:    flagger,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Decompose expands the goal into task descriptors.
func (d *Decomposer) Decompose(ctx context.Context, g *goal.Goal) ([]task.Descriptor, error) {
	ctx = logging.WithWorkspace(logging.WithGoal(ctx, g.ID), g.WorkspaceID)

	if g.Status != goal.StatusActive {
		d.logger.Debug(ctx, "skipping decomposition of non-active goal",
			zap.String("status", string(g.Status)))
		return nil, nil
	}

	// Idempotence: a goal with any non-cancelled task is already decomposed.
	existing, err := d.tasks.ListByGoal(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks for goal %s: %w", g.ID, err)
	}
	for _, t := range existing {
		if t.Status != task.StatusCancelled {
			d.logger.Debug(ctx, "goal already has tasks, decomposition is a no-op",
				zap.Int("existing_tasks", len(existing)))
			return nil, nil
		}
	}

	classification, err := d.classifier.Classify(ctx, g.Description)
	if err != nil {
		return nil, fmt.Errorf("classifying goal %s: %w", g.ID, err)
	}

	templates := categoryTemplates[classification.Category]
	descriptors := make([]task.Descriptor, 0, len(templates))
	for _, tpl := range templates {
		descriptors = append(descriptors, task.Descriptor{
			Name:               fmt.Sprintf(tpl.nameFormat, g.Description),
			Priority:           d.config.BasePriority + tpl.priorityOffset,
			Capability:         string(classification.Category),
			MaxAttempts:        d.config.MaxAttempts,
			ContributionWeight: tpl.weight,
		})
	}

	if len(descriptors) == 0 {
		reason := fmt.Sprintf("decomposition produced no tasks (category %s)", classification.Category)
		if err := d.flagger.FlagNeedsReview(ctx, g.ID, reason); err != nil {
			return nil, fmt.Errorf("flagging goal %s: %w", g.ID, err)
		}
		d.logger.Warn(ctx, "goal flagged for review", zap.String("reason", reason))
		return nil, nil
	}

	d.logger.Info(ctx, "goal decomposed",
		zap.String("category", string(classification.Category)),
		zap.Float64("confidence", classification.Confidence),
		zap.Int("task_count", len(descriptors)),
	)
	return descriptors, nil
}
