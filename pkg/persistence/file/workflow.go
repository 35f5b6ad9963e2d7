package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores each workflow instance, steps included, as one
// JSON document. A process-wide mutex provides the atomic read-modify-write
// the store contract requires; the Version field still guards against stale
// in-memory copies.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (r *WorkflowRepository) dir() string {
	return filepath.Join(r.root, workflowsDir)
}

func (r *WorkflowRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir(), 0o750); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if _, err := os.Stat(r.path(workflow.ID)); err == nil {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.Version == 0 {
		workflow.Version = 1
	}

	return r.write(workflow)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.read(id)
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.read(workflow.ID)
	if err != nil {
		return err
	}

	if stored.Version != workflow.Version {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrVersionConflict)
	}

	workflow.Version++
	workflow.UpdatedAt = time.Now().UTC()

	if err := r.write(workflow); err != nil {
		// Roll the in-memory token back so the caller can retry cleanly.
		workflow.Version--

		return err
	}

	return nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowInstance, 0, len(all))

	for _, workflow := range all {
		if opts.TenantID != "" && workflow.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		if opts.Type != nil && workflow.Type != *opts.Type {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	total := int64(len(filtered))

	offset := opts.Offset
	if offset > len(filtered) {
		offset = len(filtered)
	}

	end := len(filtered)
	if opts.Limit > 0 && offset+opts.Limit < end {
		end = offset + opts.Limit
	}

	return &persistence.ListWorkflowsResult{
		Workflows:   filtered[offset:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}, nil
}

func (r *WorkflowRepository) StaleRunning(ctx context.Context, updatedBefore time.Time) ([]*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	stale := make([]*models.WorkflowInstance, 0)

	for _, workflow := range all {
		if workflow.Status == models.WorkflowStatusRunning && workflow.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, workflow)
		}
	}

	return stale, nil
}

func (r *WorkflowRepository) Statistics(ctx context.Context, opts persistence.StatisticsOptions) (*persistence.Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	stats := &persistence.Statistics{
		ByStatus: make(map[models.WorkflowStatus]int64),
	}

	var (
		totalDuration time.Duration
		completed     int64
		terminal      int64
	)

	for _, workflow := range all {
		if opts.Type != nil && workflow.Type != *opts.Type {
			continue
		}

		if !opts.From.IsZero() && workflow.CreatedAt.Before(opts.From) {
			continue
		}

		if !opts.To.IsZero() && workflow.CreatedAt.After(opts.To) {
			continue
		}

		stats.Total++
		stats.ByStatus[workflow.Status]++

		if workflow.Status.Terminal() {
			terminal++
		}

		if workflow.Status == models.WorkflowStatusCompleted {
			completed++

			if workflow.StartedAt != nil && workflow.CompletedAt != nil {
				totalDuration += workflow.CompletedAt.Sub(*workflow.StartedAt)
			}
		}
	}

	if completed > 0 {
		stats.AverageDuration = totalDuration / time.Duration(completed)
	}

	if terminal > 0 {
		stats.SuccessRate = float64(completed) / float64(terminal)
	}

	return stats, nil
}

func (r *WorkflowRepository) read(id string) (*models.WorkflowInstance, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.WorkflowInstance
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("corrupt workflow file: %w", err))
	}

	return &workflow, nil
}

func (r *WorkflowRepository) readAll() ([]*models.WorkflowInstance, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make([]*models.WorkflowInstance, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		workflow, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (r *WorkflowRepository) write(workflow *models.WorkflowInstance) error {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := os.MkdirAll(r.dir(), 0o750); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	tmp := r.path(workflow.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := os.Rename(tmp, r.path(workflow.ID)); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func sortWorkflows(workflows []*models.WorkflowInstance, sortBy, sortOrder string) {
	key := func(w *models.WorkflowInstance) time.Time {
		if sortBy == "updated_at" {
			return w.UpdatedAt
		}

		return w.CreatedAt
	}

	asc := sortOrder == "asc"

	sort.SliceStable(workflows, func(i, j int) bool {
		if asc {
			return key(workflows[i]).Before(key(workflows[j]))
		}

		return key(workflows[i]).After(key(workflows[j]))
	})
}
