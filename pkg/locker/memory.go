package locker

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker for single-process deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time // workflow ID -> expiry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]time.Time),
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, workflowID string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[workflowID]; held && time.Now().Before(expiry) {
		return nil, ErrAlreadyLocked
	}

	l.locks[workflowID] = time.Now().Add(ttl)

	return &memoryLock{locker: l, workflowID: workflowID}, nil
}

type memoryLock struct {
	locker     *MemoryLocker
	workflowID string
}

func (l *memoryLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	delete(l.locker.locks, l.workflowID)

	return nil
}
