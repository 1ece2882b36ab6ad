// Package registry owns per-task state and the task state machine.
//
// The registry guards its maps with a single RWMutex, which makes every
// individual operation atomic. It does not order operations on the same task
// across calls; that is the coordinator's job. Futures are settled through
// Settle so that callers decide when a transition becomes visible to
// awaiters.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/petemoulton/trilogy/internal/graph"
	"github.com/petemoulton/trilogy/pkg/models"
)

// Transition is a committed status change together with the task snapshot
// taken right after it.
type Transition struct {
	TaskID   string
	From     models.TaskStatus
	To       models.TaskStatus
	Forced   bool
	Snapshot *models.Task
}

type entry struct {
	task   *models.Task
	future *Future
	// cause is the error a Failed or Cancelled task's future is rejected with.
	cause error
	// committed is set by Settle once a terminal status has been persisted
	// and published. Dependents only see a terminal dependency after that.
	committed bool
}

// Registry holds every tracked task, keyed by ID.
//
// A terminal transition is visible through Get and Status right away, but
// readiness checks (Register, Start, CanStart, Unblock) ignore it until
// Settle commits it.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	graph *graph.DependencyGraph
	now   func() time.Time
}

// New creates a registry on top of g. A nil clock defaults to time.Now.
func New(g *graph.DependencyGraph, now func() time.Time) *Registry {
	if g == nil {
		g = graph.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		tasks: make(map[string]*entry),
		graph: g,
		now:   now,
	}
}

// Graph returns the dependency graph backing the registry.
func (r *Registry) Graph() *graph.DependencyGraph {
	return r.graph
}

// Register creates a task. The initial status is Pending when every
// dependency is already completed, Cancelled when a dependency has already
// failed or been cancelled, and Blocked otherwise. Dependencies on IDs that
// are not registered yet are accepted and keep the task Blocked.
func (r *Registry) Register(id string, dependencies []string, workerHint string, metadata json.RawMessage) (Transition, *Future, error) {
	const op = "register"
	if id == "" {
		return Transition{}, nil, taskErr(op, id, ErrInvalidTask, "empty task id")
	}

	deps := dedupe(dependencies)
	if slices.Contains(deps, "") {
		return Transition{}, nil, taskErr(op, id, ErrInvalidTask, "empty dependency id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; exists {
		return Transition{}, nil, &TaskError{Op: op, TaskID: id, Kind: ErrDuplicateTask}
	}
	if path, cyclic := r.graph.FindCycle(id, deps); cyclic {
		return Transition{}, nil, taskErr(op, id, ErrCircularDependency, "%v", path)
	}

	now := r.now()
	task := &models.Task{
		ID:           id,
		Dependencies: deps,
		WorkerHint:   workerHint,
		Metadata:     slices.Clone(metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e := &entry{task: task, future: newFuture()}
	r.tasks[id] = e
	r.graph.AddTask(id, deps)

	switch {
	case len(deps) == 0 || r.canStartLocked(task):
		task.Status = models.TaskStatusPending
	default:
		task.Status = models.TaskStatusBlocked
		if failed := r.failedDependencyLocked(task); failed != "" {
			r.cancelLocked(e, failed, now)
		}
	}

	return Transition{TaskID: id, To: task.Status, Snapshot: r.snapshotLocked(e)}, e.future, nil
}

// Start moves a task to Running on behalf of workerID. Readiness is evaluated
// at call time, so a Blocked task whose dependencies have all completed and
// been committed can start before the unblock propagation reached it.
func (r *Registry) Start(id, workerID string) (Transition, *Future, error) {
	const op = "start"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return Transition{}, nil, &TaskError{Op: op, TaskID: id, Kind: ErrNotFound}
	}
	from := e.task.Status
	switch {
	case from.Terminal():
		return Transition{}, nil, taskErr(op, id, ErrAlreadyTerminal, "status %s", from)
	case from == models.TaskStatusRunning:
		return Transition{}, nil, taskErr(op, id, ErrInvalidTransition, "already running on %s", e.task.AssignedWorker)
	case !r.canStartLocked(e.task):
		return Transition{}, nil, taskErr(op, id, ErrNotReady, "waiting on %v", r.unmetLocked(e.task))
	}

	now := r.now()
	e.task.Status = models.TaskStatusRunning
	e.task.AssignedWorker = workerID
	e.task.StartedAt = &now
	e.task.UpdatedAt = now

	return Transition{TaskID: id, From: from, To: e.task.Status, Snapshot: r.snapshotLocked(e)}, e.future, nil
}

// Complete records the result of a running task.
func (r *Registry) Complete(id string, result json.RawMessage) (Transition, error) {
	const op = "complete"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.runningLocked(op, id)
	if err != nil {
		return Transition{}, err
	}

	from := e.task.Status
	now := r.now()
	e.task.Status = models.TaskStatusCompleted
	e.task.Result = slices.Clone(result)
	e.task.UpdatedAt = now
	e.task.FinishedAt = &now

	return Transition{TaskID: id, From: from, To: e.task.Status, Snapshot: r.snapshotLocked(e)}, nil
}

// Fail records the failure of a running task. The snapshot keeps only the
// text of cause; the future is rejected with a TaskFailedError wrapping cause
// itself, so errors.Is and errors.As reach the original value.
func (r *Registry) Fail(id string, cause error) (Transition, error) {
	const op = "fail"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.runningLocked(op, id)
	if err != nil {
		return Transition{}, err
	}
	if cause == nil {
		cause = errors.New("unspecified failure")
	}

	from := e.task.Status
	now := r.now()
	e.task.Status = models.TaskStatusFailed
	e.task.Error = cause.Error()
	e.task.UpdatedAt = now
	e.task.FinishedAt = &now
	e.cause = &TaskFailedError{TaskID: id, Err: cause}

	return Transition{TaskID: id, From: from, To: e.task.Status, Snapshot: r.snapshotLocked(e)}, nil
}

// ForceComplete completes a task regardless of its dependencies. It is
// allowed from every non-terminal state and may be repeated on a task that is
// already Completed, in which case only the stored result is replaced.
func (r *Registry) ForceComplete(id string, result json.RawMessage) (Transition, error) {
	const op = "force-complete"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return Transition{}, &TaskError{Op: op, TaskID: id, Kind: ErrNotFound}
	}
	from := e.task.Status
	if from == models.TaskStatusFailed || from == models.TaskStatusCancelled {
		return Transition{}, taskErr(op, id, ErrAlreadyTerminal, "status %s", from)
	}

	now := r.now()
	e.task.Status = models.TaskStatusCompleted
	e.task.Result = slices.Clone(result)
	e.task.Forced = true
	e.task.UpdatedAt = now
	if e.task.FinishedAt == nil {
		e.task.FinishedAt = &now
	}

	return Transition{TaskID: id, From: from, To: e.task.Status, Forced: true, Snapshot: r.snapshotLocked(e)}, nil
}

// Unblock moves a Blocked task to Pending if it can start now. It reports
// whether a transition happened.
func (r *Registry) Unblock(id string) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || e.task.Status != models.TaskStatusBlocked || !r.canStartLocked(e.task) {
		return Transition{}, false
	}
	e.task.Status = models.TaskStatusPending
	e.task.UpdatedAt = r.now()

	return Transition{TaskID: id, From: models.TaskStatusBlocked, To: e.task.Status, Snapshot: r.snapshotLocked(e)}, true
}

// Cancel moves a Pending or Blocked task to Cancelled because failedID
// failed. Tasks in any other state are left untouched.
func (r *Registry) Cancel(id, failedID string) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return Transition{}, false
	}
	from := e.task.Status
	if from != models.TaskStatusPending && from != models.TaskStatusBlocked {
		return Transition{}, false
	}
	r.cancelLocked(e, failedID, r.now())

	return Transition{TaskID: id, From: from, To: e.task.Status, Snapshot: r.snapshotLocked(e)}, true
}

func (r *Registry) cancelLocked(e *entry, failedID string, now time.Time) {
	e.task.Status = models.TaskStatusCancelled
	e.task.CancelledBy = failedID
	e.task.Error = fmt.Sprintf("dependency %s failed", failedID)
	e.task.UpdatedAt = now
	e.task.FinishedAt = &now
	e.cause = &DependencyFailedError{TaskID: e.task.ID, DependencyID: failedID}
}

// Settle commits the terminal status of a task and resolves or rejects its
// future. It reports whether this call settled the future; a future that is
// already settled keeps its first outcome.
func (r *Registry) Settle(id string) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	status := e.task.Status
	if status.Terminal() {
		e.committed = true
	}
	result := slices.Clone(e.task.Result)
	cause := e.cause
	future := e.future
	r.mu.Unlock()

	switch status {
	case models.TaskStatusCompleted:
		return future.resolve(result)
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		return future.reject(cause)
	default:
		return false
	}
}

// CanStart reports whether every dependency of id exists and is Completed.
func (r *Registry) CanStart(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return false
	}
	return r.canStartLocked(e.task)
}

func (r *Registry) canStartLocked(task *models.Task) bool {
	for _, depID := range task.Dependencies {
		if !r.completedLocked(depID) {
			return false
		}
	}
	return true
}

// completedLocked reports whether id is Completed and committed.
func (r *Registry) completedLocked(id string) bool {
	dep, ok := r.tasks[id]
	return ok && dep.committed && dep.task.Status == models.TaskStatusCompleted
}

func (r *Registry) unmetLocked(task *models.Task) []string {
	var unmet []string
	for _, depID := range task.Dependencies {
		if !r.completedLocked(depID) {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// failedDependencyLocked returns the ID of the failed ancestor that should
// cancel task, or "" when no dependency has failed or been cancelled.
func (r *Registry) failedDependencyLocked(task *models.Task) string {
	for _, depID := range task.Dependencies {
		dep, ok := r.tasks[depID]
		if !ok || !dep.committed {
			continue
		}
		switch dep.task.Status {
		case models.TaskStatusFailed:
			return depID
		case models.TaskStatusCancelled:
			if dep.task.CancelledBy != "" {
				return dep.task.CancelledBy
			}
			return depID
		}
	}
	return ""
}

func (r *Registry) runningLocked(op, id string) (*entry, error) {
	e, ok := r.tasks[id]
	if !ok {
		return nil, &TaskError{Op: op, TaskID: id, Kind: ErrNotFound}
	}
	switch status := e.task.Status; {
	case status.Terminal():
		return nil, taskErr(op, id, ErrAlreadyTerminal, "status %s", status)
	case status != models.TaskStatusRunning:
		return nil, taskErr(op, id, ErrInvalidTransition, "status %s, want %s", status, models.TaskStatusRunning)
	}
	return e, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (*models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return r.snapshotLocked(e), true
}

// Future returns the completion future of the task.
func (r *Registry) Future(id string) (*Future, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return e.future, true
}

// Status returns the status of id, or "" and false when it is unknown.
func (r *Registry) Status(id string) (models.TaskStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return "", false
	}
	return e.task.Status, true
}

// List returns snapshots of every task sorted by ID.
func (r *Registry) List() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		out = append(out, r.snapshotLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Summary aggregates task counts per status.
func (r *Registry) Summary() models.SystemStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := models.SystemStatus{Counts: make(map[models.TaskStatus]int)}
	for _, st := range models.AllStatuses() {
		s.Counts[st] = 0
	}
	for _, e := range r.tasks {
		s.Counts[e.task.Status]++
		if !e.future.Settled() {
			s.ActiveFutures++
		}
	}
	s.Total = len(r.tasks)
	return s
}

// Evictable returns the IDs of terminal tasks that finished before cutoff and
// have no non-terminal dependents, sorted.
func (r *Registry) Evictable(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.tasks {
		if !e.task.Status.Terminal() {
			continue
		}
		finished := e.task.UpdatedAt
		if e.task.FinishedAt != nil {
			finished = *e.task.FinishedAt
		}
		if !finished.Before(cutoff) {
			continue
		}
		if r.hasLiveDependentLocked(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) hasLiveDependentLocked(id string) bool {
	for _, depID := range r.graph.GetDependents(id) {
		if dep, ok := r.tasks[depID]; ok && !dep.task.Status.Terminal() {
			return true
		}
	}
	return false
}

// Remove evicts a terminal task that has no non-terminal dependents.
func (r *Registry) Remove(id string) error {
	const op = "evict"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return &TaskError{Op: op, TaskID: id, Kind: ErrNotFound}
	}
	if !e.task.Status.Terminal() {
		return taskErr(op, id, ErrInvalidTransition, "status %s is not terminal", e.task.Status)
	}
	if r.hasLiveDependentLocked(id) {
		return taskErr(op, id, ErrInvalidTransition, "has non-terminal dependents")
	}
	delete(r.tasks, id)
	r.graph.RemoveTask(id)
	return nil
}

// Load rebuilds the registry from persisted snapshots and repairs states that
// cannot be trusted after a restart:
//   - Running tasks are demoted to Pending or Blocked, since their worker
//     cannot be assumed alive;
//   - Pending and Blocked tasks below a failed or cancelled task are
//     cancelled, finishing an interrupted cascade;
//   - Blocked tasks whose dependencies are all completed become Pending.
//
// Every task gets a fresh future; futures of terminal tasks are settled
// immediately. The repairs are returned so the caller can persist them.
func (r *Registry) Load(snapshots []*models.Task) ([]Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snap := range snapshots {
		if snap == nil || snap.ID == "" {
			return nil, fmt.Errorf("load: %w: empty task id", ErrInvalidTask)
		}
		if _, exists := r.tasks[snap.ID]; exists {
			return nil, fmt.Errorf("load %s: %w", snap.ID, ErrDuplicateTask)
		}
		if !snap.Status.Valid() {
			return nil, fmt.Errorf("load %s: %w: unknown status %q", snap.ID, ErrInvalidTask, snap.Status)
		}
		task := snap.Clone()
		task.Dependencies = dedupe(task.Dependencies)
		task.Dependents = nil
		e := &entry{task: task, future: newFuture(), committed: task.Status.Terminal()}
		switch task.Status {
		case models.TaskStatusFailed:
			e.cause = &TaskFailedError{TaskID: task.ID, Err: errors.New(task.Error)}
		case models.TaskStatusCancelled:
			e.cause = &DependencyFailedError{TaskID: task.ID, DependencyID: task.CancelledBy}
		}
		r.tasks[task.ID] = e
		r.graph.AddTask(task.ID, task.Dependencies)
	}

	now := r.now()
	var repairs []Transition
	record := func(e *entry, from models.TaskStatus) {
		repairs = append(repairs, Transition{TaskID: e.task.ID, From: from, To: e.task.Status, Snapshot: r.snapshotLocked(e)})
	}

	for _, id := range r.sortedIDsLocked() {
		e := r.tasks[id]
		if e.task.Status != models.TaskStatusRunning {
			continue
		}
		e.task.AssignedWorker = ""
		e.task.StartedAt = nil
		e.task.UpdatedAt = now
		if r.canStartLocked(e.task) {
			e.task.Status = models.TaskStatusPending
		} else {
			e.task.Status = models.TaskStatusBlocked
		}
		record(e, models.TaskStatusRunning)
	}

	for _, id := range r.sortedIDsLocked() {
		e := r.tasks[id]
		if e.task.Status != models.TaskStatusFailed && e.task.Status != models.TaskStatusCancelled {
			continue
		}
		root := id
		if e.task.Status == models.TaskStatusCancelled && e.task.CancelledBy != "" {
			root = e.task.CancelledBy
		}
		for _, childID := range r.graph.Descendants(id) {
			child, ok := r.tasks[childID]
			if !ok {
				continue
			}
			from := child.task.Status
			if from != models.TaskStatusPending && from != models.TaskStatusBlocked {
				continue
			}
			r.cancelLocked(child, root, now)
			record(child, from)
		}
	}

	for _, id := range r.sortedIDsLocked() {
		e := r.tasks[id]
		if e.task.Status == models.TaskStatusBlocked && r.canStartLocked(e.task) {
			e.task.Status = models.TaskStatusPending
			e.task.UpdatedAt = now
			record(e, models.TaskStatusBlocked)
		}
	}

	for _, e := range r.tasks {
		e.committed = e.task.Status.Terminal()
		switch e.task.Status {
		case models.TaskStatusCompleted:
			e.future.resolve(slices.Clone(e.task.Result))
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			e.future.reject(e.cause)
		}
	}

	return repairs, nil
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) snapshotLocked(e *entry) *models.Task {
	snap := e.task.Clone()
	snap.Dependents = r.graph.GetDependents(e.task.ID)
	return snap
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
