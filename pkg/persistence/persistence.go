package persistence

import (
	"context"
	"time"

	"github.com/ispworks/sagaflow/pkg/models"
)

// Persistence is the storage abstraction the engine runs against. It is the
// only component that touches durable state.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and pages workflow listings.
type ListWorkflowsOptions struct {
	Limit    int
	Offset   int
	TenantID string
	Status   *models.WorkflowStatus
	Type     *models.WorkflowType
	// SortBy is one of created_at, updated_at; SortOrder is asc or desc.
	SortBy    string
	SortOrder string
}

// ListWorkflowsResult is one page of workflow instances.
type ListWorkflowsResult struct {
	Workflows   []*models.WorkflowInstance
	TotalCount  int64
	HasNextPage bool
}

// StatisticsOptions scopes an aggregate query.
type StatisticsOptions struct {
	Type *models.WorkflowType
	From time.Time
	To   time.Time
}

// Statistics are aggregate counts over workflow instances in a date range.
type Statistics struct {
	Total    int64                            `json:"total"`
	ByStatus map[models.WorkflowStatus]int64  `json:"by_status"`
	// AverageDuration covers completed workflows only.
	AverageDuration time.Duration `json:"average_duration"`
	// SuccessRate is completed / terminal, in [0, 1]. Zero when no workflow
	// has reached a terminal status yet.
	SuccessRate float64 `json:"success_rate"`
}

// WorkflowRepository persists workflow instances together with their steps.
// Update implementations must enforce the instance's Version so that two
// concurrent operator actions cannot interleave writes; a stale write fails
// with ErrVersionConflict. On success the stored and in-memory Version are
// both advanced.
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Update(ctx context.Context, workflow *models.WorkflowInstance) error
	List(ctx context.Context, opts ListWorkflowsOptions) (*ListWorkflowsResult, error)
	// StaleRunning returns running workflows whose last update is older than
	// the given instant. The recovery sweeper re-queues them after a worker
	// crash.
	StaleRunning(ctx context.Context, updatedBefore time.Time) ([]*models.WorkflowInstance, error)
	Statistics(ctx context.Context, opts StatisticsOptions) (*Statistics, error)
}
