package state

import (
	"context"
	"sort"
	"sync"

	"github.com/petemoulton/trilogy/pkg/models"
)

// MemoryStore keeps task snapshots in process memory. It backs the
// "memory" storage driver and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

// Migrate is a no-op.
func (m *MemoryStore) Migrate() error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SaveTask stores a copy of t.
func (m *MemoryStore) SaveTask(ctx context.Context, t *models.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.Clone()
	return nil
}

// SaveTasks stores copies of every task.
func (m *MemoryStore) SaveTasks(ctx context.Context, tasks []*models.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = t.Clone()
	}
	return nil
}

// GetTask returns a copy of the task, or nil if it is unknown.
func (m *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[id].Clone(), nil
}

// DeleteTask removes a task.
func (m *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

// ListTasks returns copies of all tasks ordered by ID, optionally filtered by status.
func (m *MemoryStore) ListTasks(ctx context.Context, status *models.TaskStatus) ([]*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Task
	for _, t := range m.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
