// Package events defines the workflow lifecycle events published on the bus.
// The API publishes start and cancel requests; workers publish everything
// else; notification and alerting consumers subscribe downstream.
package events

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/models"
)

type EventType string

// Topic carries all workflow lifecycle events.
const Topic = "sagaflow.workflows"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowRequestedEvent       EventType = "workflow.requested"
	WorkflowCancelRequestedEvent EventType = "workflow.cancel.requested"
	WorkflowStartedEvent         EventType = "workflow.started"
	StepCompletedEvent           EventType = "workflow.step.completed"
	StepFailedEvent              EventType = "workflow.step.failed"
	WorkflowCompletedEvent       EventType = "workflow.completed"
	WorkflowFailedEvent          EventType = "workflow.failed"
	WorkflowCompensatedEvent     EventType = "workflow.compensated"
	WorkflowRolledBackEvent      EventType = "workflow.rolled_back"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkflowRequested asks any available worker to execute (or resume) a
// workflow instance. The recovery sweeper re-publishes it for stale
// instances.
type WorkflowRequested struct {
	BaseEvent

	WorkflowType models.WorkflowType `json:"workflow_type"`
	TenantID     string              `json:"tenant_id"`
}

func (e WorkflowRequested) GetType() EventType {
	return WorkflowRequestedEvent
}

// WorkflowCancelRequested asks the worker driving the instance to stop
// dispatching further steps and compensate.
type WorkflowCancelRequested struct {
	BaseEvent

	RequestedBy string `json:"requested_by"`
}

func (e WorkflowCancelRequested) GetType() EventType {
	return WorkflowCancelRequestedEvent
}

type WorkflowStarted struct {
	BaseEvent

	WorkflowType models.WorkflowType `json:"workflow_type"`
}

func (e WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepName  string `json:"step_name"`
	StepOrder int    `json:"step_order"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepName  string `json:"step_name"`
	StepOrder int    `json:"step_order"`
	Error     string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (e WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

// WorkflowCompensated signals a clean rollback: every completed step was
// compensated.
type WorkflowCompensated struct {
	BaseEvent
}

func (e WorkflowCompensated) GetType() EventType {
	return WorkflowCompensatedEvent
}

// WorkflowRolledBack signals a degraded rollback: at least one compensating
// action failed and operator attention is required.
type WorkflowRolledBack struct {
	BaseEvent

	FailedSteps []string `json:"failed_steps"`
}

func (e WorkflowRolledBack) GetType() EventType {
	return WorkflowRolledBackEvent
}
