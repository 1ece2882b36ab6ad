package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/petemoulton/trilogy/pkg/models"
)

const taskColumns = `id, status, dependencies, dependents, worker_hint, assigned_worker, result, error,
	metadata, cancelled_by, forced, created_at, updated_at, started_at, finished_at`

const upsertTaskSQL = `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		dependencies = excluded.dependencies,
		dependents = excluded.dependents,
		worker_hint = excluded.worker_hint,
		assigned_worker = excluded.assigned_worker,
		result = excluded.result,
		error = excluded.error,
		metadata = excluded.metadata,
		cancelled_by = excluded.cancelled_by,
		forced = excluded.forced,
		updated_at = excluded.updated_at,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at
`

// SaveTask inserts or replaces the snapshot of a task.
func (db *DB) SaveTask(ctx context.Context, t *models.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertTaskSQL, args...); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// SaveTasks stores several snapshots in a single transaction.
func (db *DB) SaveTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertTaskSQL)
		if err != nil {
			return fmt.Errorf("prepare task upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tasks {
			args, err := taskArgs(t)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("save task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// GetTask retrieves a task by ID. It returns nil, nil if the task is unknown.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanTask(rows)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DeleteTask removes a task snapshot. Deleting an unknown ID is not an error.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListTasks retrieves all tasks, optionally filtered by status, ordered by ID.
func (db *DB) ListTasks(ctx context.Context, status *models.TaskStatus) ([]*models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id`, string(*status))
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func taskArgs(t *models.Task) ([]any, error) {
	deps, err := json.Marshal(nonNil(t.Dependencies))
	if err != nil {
		return nil, fmt.Errorf("encode dependencies of %s: %w", t.ID, err)
	}
	dependents, err := json.Marshal(nonNil(t.Dependents))
	if err != nil {
		return nil, fmt.Errorf("encode dependents of %s: %w", t.ID, err)
	}
	forced := 0
	if t.Forced {
		forced = 1
	}
	return []any{
		t.ID, string(t.Status), string(deps), string(dependents), t.WorkerHint, t.AssignedWorker,
		nullableBlob(t.Result), t.Error, nullableBlob(t.Metadata), t.CancelledBy, forced,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		formatNullableTime(t.StartedAt), formatNullableTime(t.FinishedAt),
	}, nil
}

func scanTask(rows *sql.Rows) (*models.Task, error) {
	var t models.Task
	var status, deps, dependents, createdAt, updatedAt string
	var result, metadata []byte
	var forced int
	var startedAt, finishedAt sql.NullString

	err := rows.Scan(&t.ID, &status, &deps, &dependents, &t.WorkerHint, &t.AssignedWorker,
		&result, &t.Error, &metadata, &t.CancelledBy, &forced,
		&createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies of %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(dependents), &t.Dependents); err != nil {
		return nil, fmt.Errorf("decode dependents of %s: %w", t.ID, err)
	}
	if len(t.Dependencies) == 0 {
		t.Dependencies = nil
	}
	if len(t.Dependents) == 0 {
		t.Dependents = nil
	}
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	if len(metadata) > 0 {
		t.Metadata = json.RawMessage(metadata)
	}
	t.Forced = forced != 0
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of %s: %w", t.ID, err)
	}
	t.StartedAt = parseNullableTime(startedAt)
	t.FinishedAt = parseNullableTime(finishedAt)
	return &t, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
