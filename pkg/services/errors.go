// Package services implements the operations the API layer exposes: starting,
// inspecting, retrying and cancelling workflow instances. It validates
// requests, delegates state transitions to the engine and publishes the
// execution requests workers consume.
package services

import (
	"errors"
	"fmt"

	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/engine"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid workflow status")
)

// Re-exported so handlers depend on one error surface.
var (
	ErrUnknownWorkflowType = definition.ErrUnknownWorkflowType
	ErrInputRejected       = definition.ErrInputRejected
	ErrWorkflowNotFound    = persistence.ErrWorkflowNotFound
	ErrInvalidTransition   = engine.ErrInvalidTransition
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrUnknownWorkflowType) ||
		errors.Is(err, ErrInputRejected)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, persistence.ErrVersionConflict)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}
