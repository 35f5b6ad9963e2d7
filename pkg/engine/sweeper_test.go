package engine

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence/file"
)

func sweeperWorkflow(status models.WorkflowStatus) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:        uuid.NewString(),
		Type:      models.WorkflowTypeActivateService,
		Status:    status,
		TenantID:  "tenant-1",
		Initiator: models.Initiator{ID: "system", Type: "system"},
	}
}

func TestSweeperRequeuesStaleRunning(t *testing.T) {
	repo := file.NewWorkflowRepository(t.TempDir())
	bus := &capturePublisher{}

	stale := sweeperWorkflow(models.WorkflowStatusRunning)
	require.NoError(t, repo.Create(t.Context(), stale))

	completed := sweeperWorkflow(models.WorkflowStatusCompleted)
	require.NoError(t, repo.Create(t.Context(), completed))

	time.Sleep(30 * time.Millisecond)

	// Created after the stale threshold window, so it must be left alone.
	fresh := sweeperWorkflow(models.WorkflowStatusRunning)
	require.NoError(t, repo.Create(t.Context(), fresh))

	sweeper := NewSweeper(slog.New(slog.DiscardHandler), repo, bus, 20*time.Millisecond, "test-worker")
	sweeper.sweep(t.Context())

	require.Len(t, bus.events, 1)

	requested, ok := bus.events[0].(events.WorkflowRequested)
	require.True(t, ok)
	assert.Equal(t, stale.ID, requested.WorkflowID)
	assert.Equal(t, stale.Type, requested.WorkflowType)
	assert.Equal(t, "tenant-1", requested.TenantID)
}
