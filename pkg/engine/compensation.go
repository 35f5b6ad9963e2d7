package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

// CompensationOutcome summarizes one reverse pass over a workflow's steps.
type CompensationOutcome struct {
	// FailedSteps names steps whose compensating action itself failed.
	FailedSteps []string
}

// Clean reports whether every eligible step compensated successfully.
func (o CompensationOutcome) Clean() bool {
	return len(o.FailedSteps) == 0
}

// CompensationCoordinator walks a workflow's completed steps in reverse
// order, invoking each step's compensating operation with the output the
// forward operation recorded. Compensation never retries: a visible
// compensation_failed step is preferable to flapping on a downstream system
// that is already inconsistent.
type CompensationCoordinator struct {
	logger   *slog.Logger
	repo     persistence.WorkflowRepository
	adapters *adapters.Registry
	config   Config
}

func NewCompensationCoordinator(logger *slog.Logger, repo persistence.WorkflowRepository, registry *adapters.Registry, config Config) *CompensationCoordinator {
	return &CompensationCoordinator{
		logger:   logger.With("module", "compensation"),
		repo:     repo,
		adapters: registry,
		config:   config,
	}
}

// Compensate undoes completed steps in descending step order. Steps that
// never completed are left untouched; completed steps whose template has no
// compensation operation are marked skipped. The returned error covers
// persistence failures only; downstream compensation failures are recorded
// in the outcome.
func (c *CompensationCoordinator) Compensate(ctx context.Context, workflow *models.WorkflowInstance, plan []definition.StepTemplate) (CompensationOutcome, error) {
	outcome := CompensationOutcome{}

	for i := len(workflow.Steps) - 1; i >= 0; i-- {
		step := workflow.Steps[i]
		if !step.Compensable() {
			continue
		}

		if step.Order >= len(plan) {
			return outcome, fmt.Errorf("step %q order %d exceeds plan length %d", step.Name, step.Order, len(plan))
		}

		template := plan[step.Order]
		if template.Compensation == "" {
			step.Status = models.StepStatusSkipped
			if err := c.repo.Update(ctx, workflow); err != nil {
				return outcome, fmt.Errorf("failed to persist skipped step: %w", err)
			}

			continue
		}

		step.Status = models.StepStatusCompensating
		if err := c.repo.Update(ctx, workflow); err != nil {
			return outcome, fmt.Errorf("failed to persist compensating step: %w", err)
		}

		if err := c.compensateStep(ctx, step, template); err != nil {
			step.Status = models.StepStatusCompensationFailed
			step.ErrorMessage = err.Error()
			outcome.FailedSteps = append(outcome.FailedSteps, step.Name)

			c.logger.Error("Step compensation failed",
				"workflow_id", workflow.ID,
				"step_name", step.Name,
				"target_system", step.TargetSystem,
				"error", err)
		} else {
			step.Status = models.StepStatusCompensated

			c.logger.Info("Step compensated",
				"workflow_id", workflow.ID,
				"step_name", step.Name,
				"target_system", step.TargetSystem)
		}

		if err := c.repo.Update(ctx, workflow); err != nil {
			return outcome, fmt.Errorf("failed to persist compensation result: %w", err)
		}
	}

	return outcome, nil
}

func (c *CompensationCoordinator) compensateStep(ctx context.Context, step *models.WorkflowStep, template definition.StepTemplate) error {
	adapter, err := c.adapters.Get(step.TargetSystem)
	if err != nil {
		return err
	}

	callCtx := ctx

	if c.config.StepTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, c.config.StepTimeout)
		defer cancel()
	}

	return adapter.Compensate(callCtx, template.Compensation, step.Output)
}
