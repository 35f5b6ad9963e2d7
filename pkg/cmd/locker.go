package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ispworks/sagaflow/pkg/locker"
)

// NewLocker builds the per-instance lock backend. A Redis URL enables
// cross-process locking; without one, locks are process-local only, which is
// fine for a single worker.
func NewLocker(redisURL string, logger *slog.Logger) locker.Locker {
	if redisURL == "" {
		logger.Warn("No Redis URL configured, using in-process workflow locks")

		return locker.NewMemoryLocker()
	}

	redisLocker, err := locker.NewRedisLocker(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to initialize redis locker: %w", err))
	}

	return redisLocker
}
