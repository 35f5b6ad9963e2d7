package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

// WorkflowRepository handles workflow and step rows. Updates are guarded by
// the version column: a write that lost the race affects zero rows and is
// reported as a version conflict, never silently applied.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.Version == 0 {
		workflow.Version = 1
	}

	inputData, outputData, err := marshalPayloads(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO workflows (
			id, workflow_type, status, input_data, output_data,
			initiator_id, initiator_type, tenant_id,
			retry_count, max_retries, error_message, version,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		workflow.ID, workflow.Type, workflow.Status, inputData, outputData,
		workflow.Initiator.ID, workflow.Initiator.Type, workflow.TenantID,
		workflow.RetryCount, workflow.MaxRetries, nullString(workflow.ErrorMessage), workflow.Version,
		workflow.StartedAt, workflow.CompletedAt, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if err := upsertSteps(ctx, transaction, workflow); err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if err := transaction.Commit(); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id
		  , workflow_type
		  , status
		  , input_data
		  , output_data
		  , initiator_id
		  , initiator_type
		  , tenant_id
		  , retry_count
		  , max_retries
		  , error_message
		  , version
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1
	`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowInstance) error {
	workflow.UpdatedAt = time.Now().UTC()

	inputData, outputData, err := marshalPayloads(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	result, err := transaction.ExecContext(ctx, `
		UPDATE workflows SET
			status = $1,
			input_data = $2,
			output_data = $3,
			retry_count = $4,
			max_retries = $5,
			error_message = $6,
			version = version + 1,
			started_at = $7,
			completed_at = $8,
			updated_at = $9
		WHERE id = $10 AND version = $11
	`,
		workflow.Status, inputData, outputData,
		workflow.RetryCount, workflow.MaxRetries, nullString(workflow.ErrorMessage),
		workflow.StartedAt, workflow.CompletedAt, workflow.UpdatedAt,
		workflow.ID, workflow.Version,
	)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if affected == 0 {
		_ = transaction.Rollback()

		var exists bool
		if err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)", workflow.ID).Scan(&exists); err != nil {
			return persistence.NewWorkflowError("Update", workflow.ID, err)
		}

		if !exists {
			return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrVersionConflict)
	}

	if err := upsertSteps(ctx, transaction, workflow); err != nil {
		_ = transaction.Rollback()

		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if err := transaction.Commit(); err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	workflow.Version++

	return nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.ListWorkflowsResult, error) {
	where := "WHERE 1=1"
	args := make([]any, 0, 4)

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.Type != nil {
		args = append(args, *opts.Type)
		where += fmt.Sprintf(" AND workflow_type = $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	sortBy := "created_at"
	if opts.SortBy == "updated_at" {
		sortBy = "updated_at"
	}

	sortOrder := "DESC"
	if opts.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, opts.Offset)

	query := fmt.Sprintf(`
		SELECT
			id
		  , workflow_type
		  , status
		  , input_data
		  , output_data
		  , initiator_id
		  , initiator_type
		  , tenant_id
		  , retry_count
		  , max_retries
		  , error_message
		  , version
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at
		FROM workflows
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, sortBy, sortOrder, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &persistence.ListWorkflowsResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

func (r *WorkflowRepository) StaleRunning(ctx context.Context, updatedBefore time.Time) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , workflow_type
		  , status
		  , input_data
		  , output_data
		  , initiator_id
		  , initiator_type
		  , tenant_id
		  , retry_count
		  , max_retries
		  , error_message
		  , version
		  , started_at
		  , completed_at
		  , created_at
		  , updated_at
		FROM workflows
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, models.WorkflowStatusRunning, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Statistics(ctx context.Context, opts persistence.StatisticsOptions) (*persistence.Statistics, error) {
	where := "WHERE 1=1"
	args := make([]any, 0, 3)

	if opts.Type != nil {
		args = append(args, *opts.Type)
		where += fmt.Sprintf(" AND workflow_type = $%d", len(args))
	}

	if !opts.From.IsZero() {
		args = append(args, opts.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	if !opts.To.IsZero() {
		args = append(args, opts.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM workflows "+where+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow statistics: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	stats := &persistence.Statistics{
		ByStatus: make(map[models.WorkflowStatus]int64),
	}

	var terminal, completed int64

	for rows.Next() {
		var (
			status models.WorkflowStatus
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}

		stats.ByStatus[status] = count
		stats.Total += count

		if status.Terminal() {
			terminal += count
		}

		if status == models.WorkflowStatusCompleted {
			completed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statistics: %w", err)
	}

	if terminal > 0 {
		stats.SuccessRate = float64(completed) / float64(terminal)
	}

	var avgSeconds sql.NullFloat64

	err = r.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FROM workflows
		`+where+`
		AND status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`, args...).Scan(&avgSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to query average duration: %w", err)
	}

	if avgSeconds.Valid {
		stats.AverageDuration = time.Duration(avgSeconds.Float64 * float64(time.Second))
	}

	return stats, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.WorkflowInstance) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , workflow_id
		  , step_order
		  , step_name
		  , step_type
		  , target_system
		  , status
		  , retry_count
		  , max_retries
		  , output
		  , error_message
		  , started_at
		  , completed_at
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		var (
			step         models.WorkflowStep
			output       []byte
			errorMessage sql.NullString
		)

		err := rows.Scan(
			&step.ID, &step.WorkflowID, &step.Order, &step.Name, &step.Type,
			&step.TargetSystem, &step.Status, &step.RetryCount, &step.MaxRetries,
			&output, &errorMessage, &step.StartedAt, &step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan workflow step: %w", err)
		}

		if len(output) > 0 {
			if err := json.Unmarshal(output, &step.Output); err != nil {
				return fmt.Errorf("failed to decode step output: %w", err)
			}
		}

		step.ErrorMessage = errorMessage.String
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating workflow steps: %w", err)
	}

	workflow.Steps = steps

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		workflow     models.WorkflowInstance
		inputData    []byte
		outputData   []byte
		errorMessage sql.NullString
	)

	err := row.Scan(
		&workflow.ID, &workflow.Type, &workflow.Status, &inputData, &outputData,
		&workflow.Initiator.ID, &workflow.Initiator.Type, &workflow.TenantID,
		&workflow.RetryCount, &workflow.MaxRetries, &errorMessage, &workflow.Version,
		&workflow.StartedAt, &workflow.CompletedAt, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputData) > 0 {
		if err := json.Unmarshal(inputData, &workflow.InputData); err != nil {
			return nil, fmt.Errorf("failed to decode input data: %w", err)
		}
	}

	if len(outputData) > 0 {
		if err := json.Unmarshal(outputData, &workflow.OutputData); err != nil {
			return nil, fmt.Errorf("failed to decode output data: %w", err)
		}
	}

	workflow.ErrorMessage = errorMessage.String

	return &workflow, nil
}

func upsertSteps(ctx context.Context, transaction *sql.Tx, workflow *models.WorkflowInstance) error {
	for _, step := range workflow.Steps {
		var output []byte

		if step.Output != nil {
			encoded, err := json.Marshal(step.Output)
			if err != nil {
				return fmt.Errorf("failed to encode step output: %w", err)
			}

			output = encoded
		}

		_, err := transaction.ExecContext(ctx, `
			INSERT INTO workflow_steps (
				id, workflow_id, step_order, step_name, step_type, target_system,
				status, retry_count, max_retries, output, error_message,
				started_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				retry_count = EXCLUDED.retry_count,
				max_retries = EXCLUDED.max_retries,
				output = EXCLUDED.output,
				error_message = EXCLUDED.error_message,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at
		`,
			step.ID, workflow.ID, step.Order, step.Name, step.Type, step.TargetSystem,
			step.Status, step.RetryCount, step.MaxRetries, output, nullString(step.ErrorMessage),
			step.StartedAt, step.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert step %s: %w", step.Name, err)
		}
	}

	return nil
}

func marshalPayloads(workflow *models.WorkflowInstance) (inputData, outputData []byte, err error) {
	input := workflow.InputData
	if input == nil {
		input = map[string]any{}
	}

	inputData, err = json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode input data: %w", err)
	}

	if workflow.OutputData != nil {
		outputData, err = json.Marshal(workflow.OutputData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode output data: %w", err)
		}
	}

	return inputData, outputData, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
