// Package locker enforces the single-writer-per-instance discipline: at most
// one worker drives a given workflow instance at a time, so concurrent
// operator actions cannot interleave step writes.
package locker

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLocked is returned when another holder owns the lock.
var ErrAlreadyLocked = errors.New("workflow instance is locked by another worker")

// Lock is a held per-instance lock.
type Lock interface {
	// Release frees the lock. Releasing a lock that expired or was taken
	// over is not an error.
	Release(ctx context.Context) error
}

// Locker acquires per-workflow-instance locks with a TTL so a crashed holder
// cannot wedge an instance forever.
type Locker interface {
	Acquire(ctx context.Context, workflowID string, ttl time.Duration) (Lock, error)
}
