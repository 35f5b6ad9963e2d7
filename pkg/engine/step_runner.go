package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
	"github.com/ispworks/sagaflow/pkg/retry"
)

// StepRunner executes a single workflow step against its target system
// adapter, retrying transient failures within the step's own budget. Every
// attempt is persisted before the runner moves on, so a crash mid-retry loses
// at most the in-flight attempt, never recorded step history.
type StepRunner struct {
	logger   *slog.Logger
	repo     persistence.WorkflowRepository
	adapters *adapters.Registry
	config   Config
}

func NewStepRunner(logger *slog.Logger, repo persistence.WorkflowRepository, registry *adapters.Registry, config Config) *StepRunner {
	return &StepRunner{
		logger:   logger.With("module", "step_runner"),
		repo:     repo,
		adapters: registry,
		config:   config,
	}
}

// Execute runs the step until it completes, fails fatally or exhausts its
// retry budget. The cancelled callback is checked between attempts; when it
// reports true, Execute stops retrying and returns ErrCancelled. On a
// terminal failure the returned error is a *StepExecutionError.
func (r *StepRunner) Execute(
	ctx context.Context,
	workflow *models.WorkflowInstance,
	step *models.WorkflowStep,
	template definition.StepTemplate,
	payload map[string]any,
	cancelled func() bool,
) error {
	adapter, err := r.adapters.Get(step.TargetSystem)
	if err != nil {
		return r.fail(ctx, workflow, step, true, err)
	}

	if step.StartedAt == nil {
		now := time.Now().UTC()
		step.StartedAt = &now
	}

	for {
		step.Status = models.StepStatusRunning
		if err := r.repo.Update(ctx, workflow); err != nil {
			return fmt.Errorf("failed to persist step attempt: %w", err)
		}

		output, invokeErr := r.invoke(ctx, adapter, template.Operation, payload)
		if invokeErr == nil {
			now := time.Now().UTC()
			step.Status = models.StepStatusCompleted
			step.Output = output
			step.ErrorMessage = ""
			step.CompletedAt = &now

			if err := r.repo.Update(ctx, workflow); err != nil {
				return fmt.Errorf("failed to persist step result: %w", err)
			}

			r.logger.Info("Step completed",
				"workflow_id", workflow.ID,
				"step_name", step.Name,
				"target_system", step.TargetSystem,
				"retry_count", step.RetryCount)

			return nil
		}

		step.ErrorMessage = invokeErr.Error()

		if adapters.IsFatal(invokeErr) {
			return r.fail(ctx, workflow, step, true, invokeErr)
		}

		if !retry.ShouldRetry(step.RetryCount, step.MaxRetries) {
			return r.fail(ctx, workflow, step, false, invokeErr)
		}

		step.RetryCount++
		if err := r.repo.Update(ctx, workflow); err != nil {
			return fmt.Errorf("failed to persist step attempt: %w", err)
		}

		r.logger.Warn("Step attempt failed, retrying",
			"workflow_id", workflow.ID,
			"step_name", step.Name,
			"retry_count", step.RetryCount,
			"max_retries", step.MaxRetries,
			"error", invokeErr)

		if cancelled != nil && cancelled() {
			return ErrCancelled
		}

		if delay := r.config.StepBackoff.Delay(step.RetryCount); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// invoke performs one time-bounded adapter call. A timeout surfaces as an
// unclassified error and is therefore treated as retryable.
func (r *StepRunner) invoke(ctx context.Context, adapter adapters.Adapter, operation string, payload map[string]any) (map[string]any, error) {
	callCtx := ctx

	if r.config.StepTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, r.config.StepTimeout)
		defer cancel()
	}

	return adapter.Invoke(callCtx, operation, payload)
}

func (r *StepRunner) fail(ctx context.Context, workflow *models.WorkflowInstance, step *models.WorkflowStep, fatal bool, cause error) error {
	now := time.Now().UTC()
	step.Status = models.StepStatusFailed
	step.ErrorMessage = cause.Error()
	step.CompletedAt = &now

	if err := r.repo.Update(ctx, workflow); err != nil {
		return fmt.Errorf("failed to persist step failure: %w", err)
	}

	r.logger.Error("Step failed",
		"workflow_id", workflow.ID,
		"step_name", step.Name,
		"target_system", step.TargetSystem,
		"fatal", fatal,
		"retry_count", step.RetryCount,
		"error", cause)

	return &StepExecutionError{StepName: step.Name, Fatal: fatal, Err: cause}
}
