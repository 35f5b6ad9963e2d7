// Package cmd wires the shared infrastructure the binaries assemble at
// startup: persistence, event bus, instance locker and downstream adapters.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ispworks/sagaflow/pkg/persistence"
	"github.com/ispworks/sagaflow/pkg/persistence/file"
	"github.com/ispworks/sagaflow/pkg/persistence/postgresql"
)

// NewPersistence builds a persistence backend from a database URL. Supported
// schemes are postgres:// (and postgresql://) for production and file:// for
// local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
		}

		return persist
	case strings.HasPrefix(databaseURL, "file://"):
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	default:
		return file.NewPersistence(databaseURL)
	}
}
