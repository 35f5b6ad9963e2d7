package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/locker"
)

// Worker consumes execution and cancel requests from the event bus and
// drives workflow instances through the executor. Each instance runs on its
// own goroutine; the per-instance lock keeps two workers off the same
// instance.
type Worker struct {
	id       string
	logger   *slog.Logger
	executor *engine.Executor
	sweeper  *engine.Sweeper
	eventBus eventbus.EventBus
}

func NewWorker(id string, executor *engine.Executor, sweeper *engine.Sweeper, eventBus eventbus.EventBus, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		logger:   logger.With("module", "sagaflow-worker", "worker_id", id),
		executor: executor,
		sweeper:  sweeper,
		eventBus: eventBus,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	if err := w.eventBus.Handle(events.WorkflowRequestedEvent, w.handleWorkflowRequested); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.WorkflowCancelRequestedEvent, w.handleCancelRequested); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if err := w.sweeper.Start(ctx); err != nil {
		return err
	}

	defer w.sweeper.Stop()

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *Worker) handleWorkflowRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowRequested")

		return nil
	}

	logger := w.logger.With("workflow_id", requested.WorkflowID, "workflow_type", requested.WorkflowType)
	logger.InfoContext(ctx, "Processing workflow execution request")

	go func() {
		err := w.executor.Run(ctx, requested.WorkflowID)

		switch {
		case err == nil:
		case errors.Is(err, locker.ErrAlreadyLocked):
			logger.InfoContext(ctx, "Workflow is already being driven by another worker")
		case errors.Is(err, engine.ErrInvalidTransition):
			logger.InfoContext(ctx, "Workflow is no longer runnable", "error", err)
		default:
			logger.ErrorContext(ctx, "Workflow execution failed", "error", err)
		}
	}()

	return nil
}

func (w *Worker) handleCancelRequested(ctx context.Context, event any) error {
	cancel, ok := event.(*events.WorkflowCancelRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowCancelRequested")

		return nil
	}

	logger := w.logger.With("workflow_id", cancel.WorkflowID, "requested_by", cancel.RequestedBy)
	logger.InfoContext(ctx, "Processing workflow cancel request")

	if err := w.executor.Cancel(ctx, cancel.WorkflowID); err != nil {
		if errors.Is(err, engine.ErrInvalidTransition) {
			logger.InfoContext(ctx, "Workflow is no longer cancellable", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to cancel workflow", "error", err)
	}

	return nil
}
