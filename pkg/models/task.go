package models

import (
	"encoding/json"
	"slices"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates every dependency is satisfied and the task can start.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker has started the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusBlocked indicates at least one dependency has not completed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task's worker reported a failure.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates an ancestor failed before the task could run.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusBlocked,
		TaskStatusRunning,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for Completed, Failed and Cancelled.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the serializable projection of a tracked unit of work.
// It carries everything needed to rebuild the registry and the dependency
// graph on startup, but not the completion future.
type Task struct {
	// ID is the caller-assigned unique identifier.
	ID string `json:"id"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must complete before this task starts.
	Dependencies []string `json:"dependencies,omitempty"`
	// Dependents lists task IDs that declared this task as a dependency.
	Dependents []string `json:"dependents,omitempty"`
	// WorkerHint is the worker suggested by the caller at registration.
	WorkerHint string `json:"worker_hint,omitempty"`
	// AssignedWorker is the worker that started the task.
	AssignedWorker string `json:"assigned_worker,omitempty"`
	// Result is the opaque value reported on completion.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the failure reported by the worker.
	Error string `json:"error,omitempty"`
	// Metadata is an opaque payload never interpreted by the core.
	Metadata json.RawMessage `json:"metadata,omitempty"`
	// CancelledBy names the failed ancestor that cancelled this task.
	CancelledBy string `json:"cancelled_by,omitempty"`
	// Forced is set when the task was completed through an override.
	Forced bool `json:"forced,omitempty"`
	// CreatedAt is when the task was registered.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when the task entered Running, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the task reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Dependents = slices.Clone(t.Dependents)
	c.Result = slices.Clone(t.Result)
	c.Metadata = slices.Clone(t.Metadata)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}

// ChainEntry is one hop in a dependency chain walk.
type ChainEntry struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status,omitempty"`
	Depth  int        `json:"depth"`
	// Missing is set for dependencies that were never registered.
	Missing bool `json:"missing,omitempty"`
}

// SystemStatus aggregates the registry for display.
type SystemStatus struct {
	Counts        map[TaskStatus]int `json:"counts"`
	Total         int                `json:"total"`
	ActiveFutures int                `json:"active_futures"`
}
