package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operator action is not valid
	// for the workflow's current status, such as retrying a completed
	// workflow. The request is rejected synchronously with no state change.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrCancelled is returned by the step runner when a cancel request was
	// observed between step attempts.
	ErrCancelled = errors.New("workflow cancelled")
)

// CancelledMessage is recorded as the workflow error message when an
// operator cancels it.
const CancelledMessage = "cancelled by operator"

// StepExecutionError is the terminal outcome of running one step: either the
// downstream rejected it fatally, or its retry budget ran out. Raw
// downstream errors never pass the step runner unclassified.
type StepExecutionError struct {
	StepName string
	Fatal    bool
	Err      error
}

func (e *StepExecutionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("step %q failed fatally: %v", e.StepName, e.Err)
	}

	return fmt.Sprintf("step %q failed after exhausting retries: %v", e.StepName, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
