// Package engine drives workflow instances through their step plans: forward
// execution with retries, and reverse compensation when forward progress is
// no longer possible.
package engine

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/retry"
)

// Config carries the execution policy shared by the step runner, the
// compensation coordinator and the executor.
type Config struct {
	// StepTimeout bounds a single adapter call. A hung downstream system
	// surfaces as a retryable failure instead of wedging the executor.
	StepTimeout time.Duration

	// StepBackoff paces retries of a single step attempt.
	StepBackoff retry.Backoff

	// WorkflowBackoff paces workflow-level retries of a failed step after
	// that step's own budget ran out.
	WorkflowBackoff retry.Backoff

	// LockTTL bounds how long a crashed worker can hold an instance lock.
	LockTTL time.Duration

	// StaleAfter is how long a running workflow may go without an update
	// before the recovery sweeper re-queues it.
	StaleAfter time.Duration

	// WorkerID identifies this worker in published events.
	WorkerID string
}

func DefaultConfig() Config {
	return Config{
		StepTimeout:     30 * time.Second,
		StepBackoff:     retry.Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second},
		WorkflowBackoff: retry.Backoff{Base: 2 * time.Second, Cap: 2 * time.Minute},
		LockTTL:         5 * time.Minute,
		StaleAfter:      5 * time.Minute,
	}
}
