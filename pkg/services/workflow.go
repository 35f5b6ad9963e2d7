package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var validStatuses = map[models.WorkflowStatus]struct{}{
	models.WorkflowStatusPending:     {},
	models.WorkflowStatusRunning:     {},
	models.WorkflowStatusCompleted:   {},
	models.WorkflowStatusFailed:      {},
	models.WorkflowStatusRollingBack: {},
	models.WorkflowStatusRolledBack:  {},
	models.WorkflowStatusCompensated: {},
}

// Workflow is the service behind the workflow API. Operator actions that
// mutate state go through the executor; execution itself happens on workers
// reached through the event bus.
type Workflow struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	executor    *engine.Executor
	bus         eventbus.EventPublisher
	validator   *validator.Validate
}

func NewWorkflow(logger *slog.Logger, persist persistence.Persistence, executor *engine.Executor, bus eventbus.EventPublisher) *Workflow {
	return &Workflow{
		logger:      logger.With("module", "workflow_service"),
		persistence: persist,
		executor:    executor,
		bus:         bus,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartWorkflowRequest describes a workflow start.
type StartWorkflowRequest struct {
	WorkflowType models.WorkflowType `validate:"required"`
	InputData    map[string]any
	Initiator    models.Initiator `validate:"required"`
	TenantID     string           `validate:"required"`
}

// StartWorkflow creates a pending instance and queues it for execution.
func (s *Workflow) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (*models.WorkflowInstance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	workflow, err := s.executor.Start(ctx, req.WorkflowType, req.InputData, req.Initiator, req.TenantID)
	if err != nil {
		return nil, err
	}

	if err := s.requestExecution(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to queue workflow %s: %w", workflow.ID, err)
	}

	s.logger.Info("Workflow start accepted",
		"workflow_id", workflow.ID,
		"workflow_type", workflow.Type,
		"tenant_id", workflow.TenantID)

	return workflow, nil
}

// GetWorkflow returns one instance with its full step history.
func (s *Workflow) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowInstance, error) {
	return s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
}

// ListWorkflowsRequest contains filtering, sorting and pagination options.
type ListWorkflowsRequest struct {
	Limit     int
	Offset    int
	TenantID  string
	Status    *models.WorkflowStatus
	Type      *models.WorkflowType
	SortBy    string
	SortOrder string
}

// ListWorkflows retrieves one page of workflow instances.
func (s *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*persistence.ListWorkflowsResult, error) {
	if err := s.validateListRequest(&req); err != nil {
		return nil, err
	}

	result, err := s.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		TenantID:  req.TenantID,
		Status:    req.Status,
		Type:      req.Type,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return result, nil
}

func (s *Workflow) validateListRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = defaultPageLimit
	}

	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	if req.SortBy != "created_at" && req.SortBy != "updated_at" {
		return fmt.Errorf("%w: %q", ErrInvalidSortField, req.SortBy)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return fmt.Errorf("%w: %q", ErrInvalidSortOrder, req.SortOrder)
	}

	if req.Status != nil {
		if _, ok := validStatuses[*req.Status]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, *req.Status)
		}
	}

	return nil
}

// RetryWorkflow resets a failed instance and queues it for execution from
// its first non-completed step.
func (s *Workflow) RetryWorkflow(ctx context.Context, workflowID string) (*models.WorkflowInstance, error) {
	workflow, err := s.executor.PrepareRetry(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := s.requestExecution(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to queue workflow %s: %w", workflow.ID, err)
	}

	s.logger.Info("Workflow retry accepted", "workflow_id", workflow.ID)

	return workflow, nil
}

// CancelWorkflow asks the worker driving the instance to stop and
// compensate. Only pending and running instances can be cancelled; the
// status check here rejects obviously invalid requests synchronously, the
// worker re-checks under the instance lock.
func (s *Workflow) CancelWorkflow(ctx context.Context, workflowID, requestedBy string) error {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	switch workflow.Status {
	case models.WorkflowStatusPending, models.WorkflowStatusRunning:
	default:
		return fmt.Errorf("%w: cancel requires status pending or running, workflow is %q",
			ErrInvalidTransition, workflow.Status)
	}

	event := events.WorkflowCancelRequested{
		BaseEvent:   s.baseEvent(workflow.ID, events.WorkflowCancelRequestedEvent),
		RequestedBy: requestedBy,
	}

	if err := s.bus.Publish(ctx, workflow.ID, event); err != nil {
		return fmt.Errorf("failed to publish cancel request for %s: %w", workflow.ID, err)
	}

	s.logger.Info("Workflow cancel accepted", "workflow_id", workflow.ID, "requested_by", requestedBy)

	return nil
}

// StatisticsRequest scopes an aggregate query.
type StatisticsRequest struct {
	Type *models.WorkflowType
	From time.Time
	To   time.Time
}

// GetStatistics returns aggregate counts, average duration and success rate.
func (s *Workflow) GetStatistics(ctx context.Context, req StatisticsRequest) (*persistence.Statistics, error) {
	stats, err := s.persistence.WorkflowRepository().Statistics(ctx, persistence.StatisticsOptions{
		Type: req.Type,
		From: req.From,
		To:   req.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	return stats, nil
}

func (s *Workflow) requestExecution(ctx context.Context, workflow *models.WorkflowInstance) error {
	event := events.WorkflowRequested{
		BaseEvent:    s.baseEvent(workflow.ID, events.WorkflowRequestedEvent),
		WorkflowType: workflow.Type,
		TenantID:     workflow.TenantID,
	}

	return s.bus.Publish(ctx, workflow.ID, event)
}

func (s *Workflow) baseEvent(workflowID string, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}
