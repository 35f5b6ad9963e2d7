package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/locker"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence/file"
)

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) lastEvent() eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}

	return b.events[len(b.events)-1]
}

func newTestService(t *testing.T) (*Workflow, *file.Persistence, *recordingBus) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	persist := file.NewPersistence(t.TempDir())
	bus := &recordingBus{}

	executor := engine.NewExecutor(
		logger,
		persist.WorkflowRepository(),
		definition.NewRegistry(),
		adapters.NewRegistry(logger),
		bus,
		locker.NewMemoryLocker(),
		engine.DefaultConfig(),
	)

	return NewWorkflow(logger, persist, executor, bus), persist, bus
}

func startRequest() StartWorkflowRequest {
	return StartWorkflowRequest{
		WorkflowType: models.WorkflowTypeProvisionSubscriber,
		InputData:    map[string]any{"subscriber_id": "sub-1", "plan_id": "fiber-500"},
		Initiator:    models.Initiator{ID: "op-1", Type: "operator"},
		TenantID:     "tenant-1",
	}
}

func TestStartWorkflow(t *testing.T) {
	service, persist, bus := newTestService(t)

	workflow, err := service.StartWorkflow(t.Context(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPending, workflow.Status)
	assert.Len(t, workflow.Steps, 4)

	stored, err := persist.WorkflowRepository().GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowTypeProvisionSubscriber, stored.Type)

	requested, ok := bus.lastEvent().(events.WorkflowRequested)
	require.True(t, ok)
	assert.Equal(t, workflow.ID, requested.WorkflowID)
	assert.Equal(t, "tenant-1", requested.TenantID)
}

func TestStartWorkflowValidation(t *testing.T) {
	service, _, bus := newTestService(t)

	tests := []struct {
		name    string
		mutate  func(*StartWorkflowRequest)
		wantErr error
	}{
		{
			name:    "missing tenant",
			mutate:  func(r *StartWorkflowRequest) { r.TenantID = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing initiator",
			mutate:  func(r *StartWorkflowRequest) { r.Initiator = models.Initiator{} },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown workflow type",
			mutate:  func(r *StartWorkflowRequest) { r.WorkflowType = "defragment_subscriber" },
			wantErr: ErrUnknownWorkflowType,
		},
		{
			name:    "input rejected by schema",
			mutate:  func(r *StartWorkflowRequest) { r.InputData = map[string]any{"subscriber_id": "sub-1"} },
			wantErr: ErrInputRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := startRequest()
			tt.mutate(&req)

			_, err := service.StartWorkflow(t.Context(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}

	assert.Empty(t, bus.events)
}

func TestGetWorkflowNotFound(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.GetWorkflow(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestListWorkflows(t *testing.T) {
	service, _, _ := newTestService(t)

	for range 3 {
		_, err := service.StartWorkflow(t.Context(), startRequest())
		require.NoError(t, err)
	}

	result, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Workflows, 2)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
}

func TestListWorkflowsValidation(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{SortBy: "error_message"})
	require.ErrorIs(t, err, ErrInvalidSortField)

	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{SortOrder: "sideways"})
	require.ErrorIs(t, err, ErrInvalidSortOrder)

	bogus := models.WorkflowStatus("paused")
	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{Status: &bogus})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRetryWorkflowOnlyFromFailed(t *testing.T) {
	service, persist, bus := newTestService(t)

	workflow, err := service.StartWorkflow(t.Context(), startRequest())
	require.NoError(t, err)

	// Pending instances cannot be retried.
	_, err = service.RetryWorkflow(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, IsConflictError(err))

	repo := persist.WorkflowRepository()
	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	stored.Status = models.WorkflowStatusFailed
	stored.ErrorMessage = "downstream rejected"
	require.NoError(t, repo.Update(t.Context(), stored))

	retried, err := service.RetryWorkflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPending, retried.Status)
	assert.Empty(t, retried.ErrorMessage)

	requested, ok := bus.lastEvent().(events.WorkflowRequested)
	require.True(t, ok)
	assert.Equal(t, workflow.ID, requested.WorkflowID)
}

func TestCancelWorkflow(t *testing.T) {
	service, persist, bus := newTestService(t)

	workflow, err := service.StartWorkflow(t.Context(), startRequest())
	require.NoError(t, err)

	require.NoError(t, service.CancelWorkflow(t.Context(), workflow.ID, "op-2"))

	cancel, ok := bus.lastEvent().(events.WorkflowCancelRequested)
	require.True(t, ok)
	assert.Equal(t, workflow.ID, cancel.WorkflowID)
	assert.Equal(t, "op-2", cancel.RequestedBy)

	// Terminal instances reject cancellation synchronously.
	repo := persist.WorkflowRepository()
	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	stored.Status = models.WorkflowStatusCompleted
	require.NoError(t, repo.Update(t.Context(), stored))

	err = service.CancelWorkflow(t.Context(), workflow.ID, "op-2")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetStatistics(t *testing.T) {
	service, persist, _ := newTestService(t)

	workflow, err := service.StartWorkflow(t.Context(), startRequest())
	require.NoError(t, err)

	repo := persist.WorkflowRepository()
	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	started := now.Add(-time.Minute)
	stored.Status = models.WorkflowStatusCompleted
	stored.StartedAt = &started
	stored.CompletedAt = &now
	require.NoError(t, repo.Update(t.Context(), stored))

	stats, err := service.GetStatistics(t.Context(), StatisticsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[models.WorkflowStatusCompleted])
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
	assert.Equal(t, time.Minute, stats.AverageDuration)
}

func TestHealthCheck(t *testing.T) {
	service, _, _ := newTestService(t)

	message, healthy := service.HealthCheck(t.Context())
	assert.True(t, healthy)
	assert.NotEmpty(t, message)
}
