package state

import (
	"context"
	"io"

	"github.com/petemoulton/trilogy/pkg/models"
)

// TaskStore handles task snapshot persistence.
// Implementations must tolerate concurrent calls.
type TaskStore interface {
	SaveTask(ctx context.Context, t *models.Task) error
	SaveTasks(ctx context.Context, tasks []*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, status *models.TaskStatus) ([]*models.Task, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// The coordinator works against it without depending on the concrete
// SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	TaskStore
}

// Compile-time verification that the stores implement all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ TaskStore  = (*DB)(nil)
	_ StateStore = (*MemoryStore)(nil)
)
