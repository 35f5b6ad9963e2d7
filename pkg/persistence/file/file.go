// Package file provides a file-based workflow store for development and
// tests. It mirrors the PostgreSQL backend's semantics, including optimistic
// versioning, without requiring a database.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/ispworks/sagaflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
}

// NewPersistence creates a file store rooted at the given directory. A
// "file://" prefix is stripped so the same URL-style configuration works for
// every backend.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for the file store.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
