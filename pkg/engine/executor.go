package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/locker"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/otelhelper"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

// Executor owns the workflow state machine. It is the sole authority on
// status transitions: it creates instances, drives them step by step, decides
// workflow-level retries and hands failed instances to the compensation
// coordinator. One instance is driven by at most one worker at a time,
// enforced by the per-instance lock.
type Executor struct {
	logger      *slog.Logger
	repo        persistence.WorkflowRepository
	definitions *definition.Registry
	runner      *StepRunner
	coordinator *CompensationCoordinator
	bus         eventbus.EventPublisher
	locker      locker.Locker
	config      Config
	tracer      trace.Tracer

	// cancels holds workflow IDs with a pending cancel request, observed
	// cooperatively between step attempts.
	cancels sync.Map
}

func NewExecutor(
	logger *slog.Logger,
	repo persistence.WorkflowRepository,
	definitions *definition.Registry,
	adapterRegistry *adapters.Registry,
	bus eventbus.EventPublisher,
	lock locker.Locker,
	config Config,
) *Executor {
	return &Executor{
		logger:      logger.With("module", "executor"),
		repo:        repo,
		definitions: definitions,
		runner:      NewStepRunner(logger, repo, adapterRegistry, config),
		coordinator: NewCompensationCoordinator(logger, repo, adapterRegistry, config),
		bus:         bus,
		locker:      lock,
		config:      config,
		tracer:      noop.NewTracerProvider().Tracer("sagaflow"),
	}
}

// SetTracer enables distributed tracing of workflow and step execution.
func (e *Executor) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// Start validates the request and persists a new pending instance with its
// full step sequence. It does not execute anything; a worker picks the
// instance up through the event bus.
func (e *Executor) Start(ctx context.Context, workflowType models.WorkflowType, input map[string]any, initiator models.Initiator, tenantID string) (*models.WorkflowInstance, error) {
	def, err := e.definitions.Definition(workflowType)
	if err != nil {
		return nil, err
	}

	if err := e.definitions.ValidateInput(workflowType, input); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
	}

	now := time.Now().UTC()
	workflow := &models.WorkflowInstance{
		ID:         id.String(),
		Type:       workflowType,
		Status:     models.WorkflowStatusPending,
		InputData:  input,
		Initiator:  initiator,
		TenantID:   tenantID,
		MaxRetries: def.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for order, template := range def.Steps {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step ID: %w", err)
		}

		workflow.Steps = append(workflow.Steps, &models.WorkflowStep{
			ID:           stepID.String(),
			WorkflowID:   workflow.ID,
			Order:        order,
			Name:         template.Name,
			Type:         models.StepTypeAPICall,
			TargetSystem: template.TargetSystem,
			Status:       models.StepStatusPending,
			MaxRetries:   template.MaxRetries,
		})
	}

	if err := e.repo.Create(ctx, workflow); err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instance created",
		"workflow_id", workflow.ID,
		"workflow_type", workflow.Type,
		"tenant_id", workflow.TenantID,
		"steps", len(workflow.Steps))

	return workflow, nil
}

// Run drives a workflow instance to a terminal status. It accepts instances
// in pending status (fresh starts and operator retries) and running status
// (resumption after a worker crash).
func (e *Executor) Run(ctx context.Context, workflowID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.WorkerIDKey, e.config.WorkerID))
	defer span.End()

	if err := e.run(ctx, workflowID); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (e *Executor) run(ctx context.Context, workflowID string) error {
	lock, err := e.locker.Acquire(ctx, workflowID, e.config.LockTTL)
	if err != nil {
		return err
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}()

	workflow, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	plan, err := e.definitions.PlanFor(workflow.Type)
	if err != nil {
		return err
	}

	switch workflow.Status {
	case models.WorkflowStatusPending:
		workflow.Status = models.WorkflowStatusRunning
		if workflow.StartedAt == nil {
			now := time.Now().UTC()
			workflow.StartedAt = &now
		}

		if err := e.repo.Update(ctx, workflow); err != nil {
			return err
		}

		e.publish(ctx, workflow, events.WorkflowStarted{
			BaseEvent:    e.baseEvent(workflow, events.WorkflowStartedEvent),
			WorkflowType: workflow.Type,
		})
	case models.WorkflowStatusRunning:
		e.logger.Info("Resuming workflow instance", "workflow_id", workflow.ID)
	default:
		return fmt.Errorf("%w: cannot run workflow in status %q", ErrInvalidTransition, workflow.Status)
	}

	return e.advance(ctx, workflow, plan)
}

// advance executes steps sequentially from the first non-completed one.
// Steps already completed are never re-executed, so operator retries and
// crash resumptions never replay applied side effects.
func (e *Executor) advance(ctx context.Context, workflow *models.WorkflowInstance, plan []definition.StepTemplate) error {
	for {
		if e.cancelRequested(workflow.ID) {
			return e.rollBack(ctx, workflow, plan, CancelledMessage)
		}

		step := workflow.FirstNonCompletedStep()
		if step == nil {
			return e.complete(ctx, workflow)
		}

		if step.Order >= len(plan) {
			return fmt.Errorf("step %q order %d exceeds plan length %d", step.Name, step.Order, len(plan))
		}

		stepCtx, stepSpan := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
			attribute.String(otelhelper.StepNameKey, step.Name),
			attribute.Int(otelhelper.StepOrderKey, step.Order),
			attribute.String(otelhelper.TargetSystemKey, step.TargetSystem))

		err := e.runner.Execute(stepCtx, workflow, step, plan[step.Order], mergePayload(workflow), func() bool {
			return e.cancelRequested(workflow.ID)
		})
		if err != nil {
			otelhelper.SetError(stepSpan, err)
		}

		stepSpan.End()

		if err == nil {
			e.publish(ctx, workflow, events.StepCompleted{
				BaseEvent: e.baseEvent(workflow, events.StepCompletedEvent),
				StepName:  step.Name,
				StepOrder: step.Order,
			})

			continue
		}

		if errors.Is(err, ErrCancelled) {
			return e.rollBack(ctx, workflow, plan, CancelledMessage)
		}

		var stepErr *StepExecutionError
		if !errors.As(err, &stepErr) {
			// Persistence or context failure: leave the instance as-is so
			// the recovery sweeper can re-queue it.
			return err
		}

		e.publish(ctx, workflow, events.StepFailed{
			BaseEvent: e.baseEvent(workflow, events.StepFailedEvent),
			StepName:  step.Name,
			StepOrder: step.Order,
			Error:     stepErr.Err.Error(),
		})

		// A fatal downstream rejection goes straight to compensation; the
		// workflow-level budget only covers transient failures.
		if !stepErr.Fatal {
			workflow.RetryCount++
			if workflow.RetryCount < workflow.MaxRetries {
				step.Status = models.StepStatusPending
				if err := e.repo.Update(ctx, workflow); err != nil {
					return err
				}

				e.logger.Warn("Retrying failed step at workflow level",
					"workflow_id", workflow.ID,
					"step_name", step.Name,
					"workflow_retry_count", workflow.RetryCount,
					"workflow_max_retries", workflow.MaxRetries)

				if delay := e.config.WorkflowBackoff.Delay(workflow.RetryCount); delay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(delay):
					}
				}

				continue
			}
		}

		return e.rollBack(ctx, workflow, plan, stepErr.Error())
	}
}

func (e *Executor) complete(ctx context.Context, workflow *models.WorkflowInstance) error {
	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusCompleted
	workflow.OutputData = collectOutputs(workflow)
	workflow.ErrorMessage = ""
	workflow.CompletedAt = &now

	if err := e.repo.Update(ctx, workflow); err != nil {
		return err
	}

	duration := time.Duration(0)
	if workflow.StartedAt != nil {
		duration = now.Sub(*workflow.StartedAt)
	}

	e.publish(ctx, workflow, events.WorkflowCompleted{
		BaseEvent: e.baseEvent(workflow, events.WorkflowCompletedEvent),
		Output:    workflow.OutputData,
		Duration:  duration,
	})

	e.logger.Info("Workflow completed",
		"workflow_id", workflow.ID,
		"workflow_type", workflow.Type,
		"duration", duration)

	return nil
}

// rollBack marks the workflow failed, compensates completed steps in reverse
// order and settles on compensated or rolled_back depending on whether every
// compensation succeeded.
func (e *Executor) rollBack(ctx context.Context, workflow *models.WorkflowInstance, plan []definition.StepTemplate, message string) error {
	e.cancels.Delete(workflow.ID)

	workflow.Status = models.WorkflowStatusFailed
	workflow.ErrorMessage = message

	if err := e.repo.Update(ctx, workflow); err != nil {
		return err
	}

	e.publish(ctx, workflow, events.WorkflowFailed{
		BaseEvent: e.baseEvent(workflow, events.WorkflowFailedEvent),
		Error:     message,
	})

	workflow.Status = models.WorkflowStatusRollingBack
	if err := e.repo.Update(ctx, workflow); err != nil {
		return err
	}

	outcome, err := e.coordinator.Compensate(ctx, workflow, plan)
	if err != nil {
		return err
	}

	if outcome.Clean() {
		workflow.Status = models.WorkflowStatusCompensated
	} else {
		workflow.Status = models.WorkflowStatusRolledBack
	}

	if err := e.repo.Update(ctx, workflow); err != nil {
		return err
	}

	if outcome.Clean() {
		e.publish(ctx, workflow, events.WorkflowCompensated{
			BaseEvent: e.baseEvent(workflow, events.WorkflowCompensatedEvent),
		})
	} else {
		e.publish(ctx, workflow, events.WorkflowRolledBack{
			BaseEvent:   e.baseEvent(workflow, events.WorkflowRolledBackEvent),
			FailedSteps: outcome.FailedSteps,
		})
	}

	e.logger.Error("Workflow rolled back",
		"workflow_id", workflow.ID,
		"workflow_type", workflow.Type,
		"status", workflow.Status,
		"error_message", message,
		"failed_compensations", outcome.FailedSteps)

	return nil
}

// PrepareRetry resets a failed workflow so it can be re-queued. The first
// non-completed step returns to pending with its error cleared; completed
// steps and all retry counters are left untouched.
func (e *Executor) PrepareRetry(ctx context.Context, workflowID string) (*models.WorkflowInstance, error) {
	lock, err := e.locker.Acquire(ctx, workflowID, e.config.LockTTL)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}()

	workflow, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusFailed {
		return nil, fmt.Errorf("%w: retry requires status %q, workflow is %q",
			ErrInvalidTransition, models.WorkflowStatusFailed, workflow.Status)
	}

	if step := workflow.FirstNonCompletedStep(); step != nil {
		step.Status = models.StepStatusPending
		step.ErrorMessage = ""
		step.CompletedAt = nil
	}

	workflow.Status = models.WorkflowStatusPending
	workflow.ErrorMessage = ""

	if err := e.repo.Update(ctx, workflow); err != nil {
		return nil, err
	}

	e.logger.Info("Workflow prepared for retry", "workflow_id", workflow.ID)

	return workflow, nil
}

// Cancel requests cancellation of a pending or running workflow. A pending
// instance is compensated in place without any adapter call; a running one
// gets a cooperative flag that the driving loop observes between attempts.
func (e *Executor) Cancel(ctx context.Context, workflowID string) error {
	workflow, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	switch workflow.Status {
	case models.WorkflowStatusRunning:
		e.cancels.Store(workflowID, struct{}{})
		e.logger.Info("Cancel requested for running workflow", "workflow_id", workflowID)

		return nil
	case models.WorkflowStatusPending:
	default:
		return fmt.Errorf("%w: cancel requires status pending or running, workflow is %q",
			ErrInvalidTransition, workflow.Status)
	}

	lock, err := e.locker.Acquire(ctx, workflowID, e.config.LockTTL)
	if err != nil {
		if errors.Is(err, locker.ErrAlreadyLocked) {
			// A worker just picked the instance up; fall back to the
			// cooperative flag.
			e.cancels.Store(workflowID, struct{}{})

			return nil
		}

		return err
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}()

	// Re-read under the lock; the status may have moved.
	workflow, err = e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	switch workflow.Status {
	case models.WorkflowStatusPending:
		plan, err := e.definitions.PlanFor(workflow.Type)
		if err != nil {
			return err
		}

		return e.rollBack(ctx, workflow, plan, CancelledMessage)
	case models.WorkflowStatusRunning:
		e.cancels.Store(workflowID, struct{}{})

		return nil
	default:
		return fmt.Errorf("%w: cancel requires status pending or running, workflow is %q",
			ErrInvalidTransition, workflow.Status)
	}
}

func (e *Executor) cancelRequested(workflowID string) bool {
	_, ok := e.cancels.Load(workflowID)

	return ok
}

func (e *Executor) publish(ctx context.Context, workflow *models.WorkflowInstance, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, workflow.ID, event); err != nil {
		e.logger.Error("Failed to publish workflow event",
			"workflow_id", workflow.ID,
			"event_type", event.GetType(),
			"error", err)
	}
}

func (e *Executor) baseEvent(workflow *models.WorkflowInstance, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflow.ID,
		WorkerID:   e.config.WorkerID,
	}
}

// mergePayload builds the payload for the next step attempt: the workflow's
// input overlaid with the outputs of every completed step, in forward order.
func mergePayload(workflow *models.WorkflowInstance) map[string]any {
	payload := make(map[string]any, len(workflow.InputData))
	maps.Copy(payload, workflow.InputData)

	for _, step := range workflow.CompletedSteps() {
		maps.Copy(payload, step.Output)
	}

	return payload
}

// collectOutputs merges the outputs of all completed steps into the
// workflow-level output, later steps overriding earlier keys.
func collectOutputs(workflow *models.WorkflowInstance) map[string]any {
	output := make(map[string]any)

	for _, step := range workflow.CompletedSteps() {
		maps.Copy(output, step.Output)
	}

	return output
}
