// Package models defines the core domain models for saga-style workflow orchestration.
package models

import "time"

// WorkflowType identifies one of the supported business processes. Each type
// maps to a fixed, linear step sequence owned by the definition registry.
type WorkflowType string

const (
	WorkflowTypeProvisionSubscriber   WorkflowType = "provision_subscriber"
	WorkflowTypeDeprovisionSubscriber WorkflowType = "deprovision_subscriber"
	WorkflowTypeActivateService       WorkflowType = "activate_service"
	WorkflowTypeSuspendService        WorkflowType = "suspend_service"
	WorkflowTypeTerminateService      WorkflowType = "terminate_service"
	WorkflowTypeChangeServicePlan     WorkflowType = "change_service_plan"
	WorkflowTypeUpdateNetworkConfig   WorkflowType = "update_network_config"
	WorkflowTypeMigrateSubscriber     WorkflowType = "migrate_subscriber"
)

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusPending     WorkflowStatus = "pending"
	WorkflowStatusRunning     WorkflowStatus = "running"
	WorkflowStatusCompleted   WorkflowStatus = "completed"
	WorkflowStatusFailed      WorkflowStatus = "failed"
	WorkflowStatusRollingBack WorkflowStatus = "rolling_back"
	WorkflowStatusRolledBack  WorkflowStatus = "rolled_back"
	WorkflowStatusCompensated WorkflowStatus = "compensated"
)

// Terminal reports whether the workflow can no longer change state.
// rolling_back is not terminal: compensation is still in flight.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusRolledBack, WorkflowStatusCompensated:
		return true
	default:
		return false
	}
}

// Initiator identifies the actor that started a workflow.
type Initiator struct {
	ID   string `json:"id"   validate:"required"`
	Type string `json:"type" validate:"required"` // operator, system, api_client
}

// WorkflowInstance is one durable execution of a workflow type. It owns its
// ordered steps; steps are persisted and destroyed together with the instance.
type WorkflowInstance struct {
	ID           string          `json:"id"`
	Type         WorkflowType    `json:"workflow_type" validate:"required"`
	Status       WorkflowStatus  `json:"status"`
	InputData    map[string]any  `json:"input_data"`
	OutputData   map[string]any  `json:"output_data,omitempty"`
	Initiator    Initiator       `json:"initiator"`
	TenantID     string          `json:"tenant_id" validate:"required"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Steps        []*WorkflowStep `json:"steps"`
	// Version is the optimistic-concurrency token checked by the store on
	// every update.
	Version     int64      `json:"version"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepByOrder returns the step at the given position, or nil.
func (w *WorkflowInstance) StepByOrder(order int) *WorkflowStep {
	for _, step := range w.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// FirstNonCompletedStep returns the lowest-ordered step that has not reached
// completed status. Operator retries resume execution from this step so that
// already-applied side effects are never replayed.
func (w *WorkflowInstance) FirstNonCompletedStep() *WorkflowStep {
	for _, step := range w.Steps {
		if step.Status != StepStatusCompleted {
			return step
		}
	}

	return nil
}

// CompletedSteps returns the steps that reached completed status, in forward
// execution order.
func (w *WorkflowInstance) CompletedSteps() []*WorkflowStep {
	completed := make([]*WorkflowStep, 0, len(w.Steps))

	for _, step := range w.Steps {
		if step.Status == StepStatusCompleted {
			completed = append(completed, step)
		}
	}

	return completed
}

// AllStepsCompleted reports whether every step reached completed status.
func (w *WorkflowInstance) AllStepsCompleted() bool {
	for _, step := range w.Steps {
		if step.Status != StepStatusCompleted {
			return false
		}
	}

	return len(w.Steps) > 0
}
