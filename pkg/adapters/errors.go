package adapters

import (
	"errors"
	"fmt"
)

// ErrUnknownOperation is returned when an adapter does not implement the
// requested operation. Always fatal: retrying cannot make an operation exist.
var ErrUnknownOperation = errors.New("unknown adapter operation")

// RetryableError marks a transient downstream failure. The step runner
// retries it within the step's retry budget.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// FatalError marks a failure that no retry can fix, such as a validation
// rejection by the downstream. It triggers compensation immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// Fatal wraps an error as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &FatalError{Err: err}
}

// IsFatal reports whether the error was classified non-retryable. Anything
// not explicitly fatal is treated as retryable, so timeouts and unclassified
// transport errors stay inside the retry budget.
func IsFatal(err error) bool {
	var fatal *FatalError

	return errors.As(err, &fatal)
}

// IsRetryable reports whether the error may be retried.
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}
