package registry

import (
	"errors"
	"fmt"

	"github.com/petemoulton/trilogy/internal/graph"
)

var (
	// ErrInvalidTask is returned for malformed registrations such as an empty ID.
	ErrInvalidTask = errors.New("invalid task")
	// ErrDuplicateTask is returned when a task ID is registered twice.
	ErrDuplicateTask = errors.New("task already registered")
	// ErrCircularDependency is returned when a dependency set would close a cycle.
	ErrCircularDependency = graph.ErrCycleDetected
	// ErrNotFound is returned for operations on unknown task IDs.
	ErrNotFound = errors.New("task not found")
	// ErrNotReady is returned by Start while a dependency is not completed.
	ErrNotReady = errors.New("task dependencies not satisfied")
	// ErrAlreadyTerminal is returned for mutations on a finished task.
	ErrAlreadyTerminal = errors.New("task already in terminal state")
	// ErrInvalidTransition is returned when the current state does not allow the operation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDependencyFailed is matched by every DependencyFailedError.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrTaskFailed is matched by every TaskFailedError.
	ErrTaskFailed = errors.New("task failed")
)

// TaskError describes a rejected operation on a single task.
// Kind is one of the sentinel errors above and is what errors.Is matches.
type TaskError struct {
	Op     string
	TaskID string
	Kind   error
	Msg    string
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.TaskID, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Op, e.TaskID, e.Kind, e.Msg)
}

func (e *TaskError) Unwrap() error { return e.Kind }

func taskErr(op, id string, kind error, format string, args ...any) error {
	return &TaskError{Op: op, TaskID: id, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// DependencyFailedError rejects the future of a task cancelled because an
// ancestor failed.
type DependencyFailedError struct {
	// TaskID is the cancelled task.
	TaskID string
	// DependencyID is the failed ancestor that triggered the cascade.
	DependencyID string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("task %s cancelled: dependency %s failed", e.TaskID, e.DependencyID)
}

// Is matches ErrDependencyFailed.
func (e *DependencyFailedError) Is(target error) bool {
	return target == ErrDependencyFailed
}

// TaskFailedError rejects the future of a task whose worker reported failure.
type TaskFailedError struct {
	TaskID string
	Err    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

// Is matches ErrTaskFailed.
func (e *TaskFailedError) Is(target error) bool {
	return target == ErrTaskFailed
}
