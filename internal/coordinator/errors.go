package coordinator

import "github.com/petemoulton/trilogy/internal/registry"

// Errors returned by the Coordinator, matched with errors.Is.
var (
	ErrInvalidTask        = registry.ErrInvalidTask
	ErrDuplicateTask      = registry.ErrDuplicateTask
	ErrCircularDependency = registry.ErrCircularDependency
	ErrNotFound           = registry.ErrNotFound
	ErrNotReady           = registry.ErrNotReady
	ErrAlreadyTerminal    = registry.ErrAlreadyTerminal
	ErrInvalidTransition  = registry.ErrInvalidTransition
	ErrDependencyFailed   = registry.ErrDependencyFailed
	ErrTaskFailed         = registry.ErrTaskFailed
)

type (
	// Future is the completion handle returned by Register and Start.
	Future = registry.Future
	// TaskError describes a rejected operation.
	TaskError = registry.TaskError
	// DependencyFailedError rejects futures of cascaded cancellations.
	DependencyFailedError = registry.DependencyFailedError
	// TaskFailedError rejects the future of a failed task.
	TaskFailedError = registry.TaskFailedError
)
