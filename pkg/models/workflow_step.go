package models

import "time"

// StepStatus represents the lifecycle state of a single workflow step.
type StepStatus string

const (
	StepStatusPending            StepStatus = "pending"
	StepStatusRunning            StepStatus = "running"
	StepStatusCompleted          StepStatus = "completed"
	StepStatusFailed             StepStatus = "failed"
	StepStatusSkipped            StepStatus = "skipped"
	StepStatusCompensating       StepStatus = "compensating"
	StepStatusCompensated        StepStatus = "compensated"
	StepStatusCompensationFailed StepStatus = "compensation_failed"
)

// StepTypeAPICall is the only step type the engine currently dispatches; all
// downstream interactions go through a target-system adapter.
const StepTypeAPICall = "api_call"

// WorkflowStep is one position in a workflow instance's fixed step sequence.
// Order values are unique and contiguous within a workflow and define both
// the forward execution order and the reverse compensation order.
type WorkflowStep struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Order        int        `json:"step_order"`
	Name         string     `json:"step_name"     validate:"required"`
	Type         string     `json:"step_type"`
	TargetSystem string     `json:"target_system" validate:"required"`
	Status       StepStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	// Output is the recorded result of the forward operation. Compensation
	// replays it to the adapter so the downstream can undo exactly what was
	// applied.
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Compensable reports whether the step holds state that compensation may act
// on. Only completed steps ever transition into compensating.
func (s *WorkflowStep) Compensable() bool {
	return s.Status == StepStatusCompleted
}
