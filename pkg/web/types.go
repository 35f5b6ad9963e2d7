package web

import "github.com/ispworks/sagaflow/pkg/models"

// StartWorkflowRequest is the body of POST /workflows.
type StartWorkflowRequest struct {
	WorkflowType string           `json:"workflow_type" validate:"required"`
	InputData    map[string]any   `json:"input_data"`
	Initiator    models.Initiator `json:"initiator"     validate:"required"`
	TenantID     string           `json:"tenant_id"     validate:"required"`
}

// CancelWorkflowRequest is the optional body of POST /workflows/:id/cancel.
type CancelWorkflowRequest struct {
	RequestedBy string `json:"requested_by"`
}
