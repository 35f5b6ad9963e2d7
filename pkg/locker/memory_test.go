package locker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	locks := NewMemoryLocker()

	lock, err := locks.Acquire(t.Context(), "wf-1", time.Minute)
	require.NoError(t, err)

	_, err = locks.Acquire(t.Context(), "wf-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// A different instance is unaffected.
	other, err := locks.Acquire(t.Context(), "wf-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(t.Context()))

	require.NoError(t, lock.Release(t.Context()))

	_, err = locks.Acquire(t.Context(), "wf-1", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_ExpiredLockCanBeTaken(t *testing.T) {
	t.Parallel()

	locks := NewMemoryLocker()

	_, err := locks.Acquire(t.Context(), "wf-1", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = locks.Acquire(t.Context(), "wf-1", time.Minute)
	assert.NoError(t, err)
}
