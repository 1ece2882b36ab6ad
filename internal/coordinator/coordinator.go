// Package coordinator is the public facade of the task dependency core.
//
// Every mutating call takes the per-ID lock of its task and keeps it until
// the transition has been persisted, published and propagated. Propagation
// locks dependents one at a time, always below the task that triggered it,
// so lock waits follow dependency edges downward and cannot deadlock.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/petemoulton/trilogy/internal/graph"
	"github.com/petemoulton/trilogy/internal/logging"
	"github.com/petemoulton/trilogy/internal/notify"
	"github.com/petemoulton/trilogy/internal/registry"
	"github.com/petemoulton/trilogy/internal/state"
	"github.com/petemoulton/trilogy/pkg/models"
)

// Coordinator sequences task mutations over the registry and wires in
// persistence and notifications.
type Coordinator struct {
	reg           *registry.Registry
	graph         *graph.DependencyGraph
	store         state.TaskStore
	publisher     notify.Publisher
	logger        *slog.Logger
	now           func() time.Time
	maxChainDepth int
	locks         *keyedMutex
}

// RecoveryReport summarizes a Recover call.
type RecoveryReport struct {
	// Loaded is the number of snapshots read from the store.
	Loaded int
	// Demoted counts tasks found Running and moved back to Pending or Blocked.
	Demoted int
	// Cancelled counts tasks cancelled to finish an interrupted cascade.
	Cancelled int
	// Unblocked counts Blocked tasks found ready and moved to Pending.
	Unblocked int
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.store == nil {
		o.store = state.NewMemoryStore()
	}
	if o.publisher == nil {
		o.publisher = notify.Nop{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.maxChainDepth <= 0 {
		o.maxChainDepth = DefaultMaxChainDepth
	}

	g := graph.New()
	logger := o.logger.With("component", "coordinator")
	g.SetDebugLog(func(format string, args ...interface{}) {
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("graph", "detail", fmt.Sprintf(format, args...))
		}
	})

	return &Coordinator{
		reg:           registry.New(g, o.now),
		graph:         g,
		store:         o.store,
		publisher:     o.publisher,
		logger:        logger,
		now:           o.now,
		maxChainDepth: o.maxChainDepth,
		locks:         newKeyedMutex(),
	}
}

// Register creates a task and returns its completion future. Dependencies
// may name tasks that are not registered yet.
func (c *Coordinator) Register(ctx context.Context, id string, dependencies []string, workerHint string, metadata json.RawMessage) (*Future, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	tr, future, err := c.reg.Register(id, dependencies, workerHint, metadata)
	if err != nil {
		c.logger.Debug("register rejected", "task_id", id, "error", err)
		return nil, err
	}
	c.logger.Info("task registered", "task_id", id, "status", tr.To, "dependencies", tr.Snapshot.Dependencies)
	c.commit(ctx, tr, models.EventStatusChange)

	// A dependency had already failed: the new task is born cancelled, and so
	// is everything that was waiting on it through a forward reference.
	if tr.To == models.TaskStatusCancelled {
		c.reg.Settle(id)
		c.cascade(ctx, id, tr.Snapshot.CancelledBy)
	}
	return future, nil
}

// Start moves a ready task to Running on behalf of workerID and returns the
// task's completion future.
func (c *Coordinator) Start(ctx context.Context, id, workerID string) (*Future, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	tr, future, err := c.reg.Start(id, workerID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("task started", "task_id", id, "worker", workerID)
	c.commit(ctx, tr, models.EventStatusChange)
	return future, nil
}

// Complete records the result of a running task, resolves its future and
// unblocks direct dependents that became ready.
func (c *Coordinator) Complete(ctx context.Context, id string, result json.RawMessage) error {
	unlock := c.locks.lock(id)
	defer unlock()

	tr, err := c.reg.Complete(id, result)
	if err != nil {
		return err
	}
	c.logger.Info("task completed", "task_id", id)
	c.commit(ctx, tr, models.EventStatusChange)
	c.reg.Settle(id)
	c.unblockDependents(ctx, id)
	return nil
}

// Fail records the failure of a running task, rejects its future and cancels
// every pending or blocked task downstream of it. The stored snapshot keeps
// cause.Error(); Await returns an error that wraps cause.
func (c *Coordinator) Fail(ctx context.Context, id string, cause error) error {
	unlock := c.locks.lock(id)
	defer unlock()

	tr, err := c.reg.Fail(id, cause)
	if err != nil {
		return err
	}
	c.logger.Info("task failed", "task_id", id, "error", tr.Snapshot.Error)
	c.commit(ctx, tr, models.EventStatusChange)
	c.reg.Settle(id)
	c.cascade(ctx, id, id)
	return nil
}

// ForceComplete completes a task regardless of its state or dependencies.
// It may be repeated on a completed task to replace the stored result. The
// future settles only once, so Await keeps returning the first result while
// Get and the published events carry the latest one.
func (c *Coordinator) ForceComplete(ctx context.Context, id string, result json.RawMessage) error {
	unlock := c.locks.lock(id)
	defer unlock()

	tr, err := c.reg.ForceComplete(id, result)
	if err != nil {
		return err
	}
	c.logger.Warn("task force-completed", "task_id", id, "previous_status", tr.From)
	if tr.From == tr.To {
		c.commit(ctx, tr, models.EventForceComplete)
	} else {
		c.commit(ctx, tr, models.EventStatusChange, models.EventForceComplete)
	}
	c.reg.Settle(id)
	c.unblockDependents(ctx, id)
	return nil
}

// CanStart reports whether every dependency of id exists and is completed.
func (c *Coordinator) CanStart(id string) bool {
	return c.reg.CanStart(id)
}

// Get returns a snapshot of the task.
func (c *Coordinator) Get(id string) (*models.Task, error) {
	task, ok := c.reg.Get(id)
	if !ok {
		return nil, &TaskError{Op: "get", TaskID: id, Kind: ErrNotFound}
	}
	return task, nil
}

// List returns snapshots of all tasks sorted by ID.
func (c *Coordinator) List() []*models.Task {
	return c.reg.List()
}

// Await blocks until the task settles or ctx is done.
func (c *Coordinator) Await(ctx context.Context, id string) (json.RawMessage, error) {
	future, ok := c.reg.Future(id)
	if !ok {
		return nil, &TaskError{Op: "await", TaskID: id, Kind: ErrNotFound}
	}
	return future.Await(ctx)
}

// DependencyChain walks dependencies breadth-first from id, reporting each
// reachable task once at its shortest depth. The walk stops at the
// configured maximum depth. Dependencies that were never registered are
// reported with Missing set.
func (c *Coordinator) DependencyChain(id string) ([]models.ChainEntry, error) {
	if _, ok := c.reg.Status(id); !ok {
		return nil, &TaskError{Op: "chain", TaskID: id, Kind: ErrNotFound}
	}

	hops := c.graph.Walk(id, c.maxChainDepth)
	chain := make([]models.ChainEntry, 0, len(hops))
	for _, hop := range hops {
		entry := models.ChainEntry{TaskID: hop.ID, Depth: hop.Depth}
		if status, ok := c.reg.Status(hop.ID); ok {
			entry.Status = status
		} else {
			entry.Missing = true
		}
		chain = append(chain, entry)
	}
	return chain, nil
}

// SystemStatus aggregates task counts per status.
func (c *Coordinator) SystemStatus() models.SystemStatus {
	return c.reg.Summary()
}

// Recover rebuilds the in-memory state from the store. It must run before
// the coordinator serves any other call. Repairs made during the rebuild are
// written back to the store.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	snapshots, err := c.store.ListTasks(ctx, nil)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("load snapshots: %w", err)
	}

	repairs, err := c.reg.Load(snapshots)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("rebuild registry: %w", err)
	}

	report := RecoveryReport{Loaded: len(snapshots)}
	updated := make([]*models.Task, 0, len(repairs))
	for _, tr := range repairs {
		switch {
		case tr.From == models.TaskStatusRunning:
			report.Demoted++
			c.logger.Warn("demoted running task", "task_id", tr.TaskID, "status", tr.To)
		case tr.To == models.TaskStatusCancelled:
			report.Cancelled++
		case tr.To == models.TaskStatusPending:
			report.Unblocked++
		}
		updated = append(updated, tr.Snapshot)
	}
	if err := c.store.SaveTasks(ctx, updated); err != nil {
		c.logger.Error("persist recovery repairs", "error", err)
	}

	c.logger.Info("recovered tasks",
		"loaded", report.Loaded,
		"demoted", report.Demoted,
		"cancelled", report.Cancelled,
		"unblocked", report.Unblocked,
	)
	return report, nil
}

// Evictable lists terminal tasks that finished more than retention before
// now and have no non-terminal dependents.
func (c *Coordinator) Evictable(now time.Time, retention time.Duration) []string {
	return c.reg.Evictable(now.Add(-retention))
}

// Evict removes a terminal task from the registry, the graph and the store.
func (c *Coordinator) Evict(ctx context.Context, id string) error {
	unlock := c.locks.lock(id)
	defer unlock()

	if err := c.reg.Remove(id); err != nil {
		return err
	}
	if err := c.store.DeleteTask(ctx, id); err != nil {
		c.logger.Error("delete evicted snapshot", "task_id", id, "error", err)
	}
	c.logger.Debug("task evicted", "task_id", id)
	return nil
}

// unblockDependents re-evaluates the direct dependents of id.
func (c *Coordinator) unblockDependents(ctx context.Context, id string) {
	for _, depID := range c.graph.GetDependents(id) {
		c.withLock(depID, func() {
			if tr, ok := c.reg.Unblock(depID); ok {
				c.logger.Info("task unblocked", "task_id", depID, "by", id)
				c.commit(ctx, tr, models.EventStatusChange)
			}
		})
	}
}

// cascade cancels every pending or blocked task reachable downstream of id,
// attributing the cancellation to rootID. It advances one level at a time and
// reads the dependents of a task only after that task has been settled, so a
// registration racing the cascade is either visited or born cancelled.
func (c *Coordinator) cascade(ctx context.Context, id, rootID string) {
	queue := c.graph.GetDependents(id)
	visited := make(map[string]bool)
	for len(queue) > 0 {
		descID := queue[0]
		queue = queue[1:]
		if visited[descID] {
			continue
		}
		visited[descID] = true

		c.withLock(descID, func() {
			if tr, ok := c.reg.Cancel(descID, rootID); ok {
				c.logger.Info("task cancelled", "task_id", descID, "failed_dependency", rootID)
				c.commit(ctx, tr, models.EventStatusChange)
				c.reg.Settle(descID)
			}
			queue = append(queue, c.graph.GetDependents(descID)...)
		})
	}
}

func (c *Coordinator) withLock(id string, fn func()) {
	unlock := c.locks.lock(id)
	defer unlock()
	fn()
}

// commit persists the snapshot of tr and publishes one event per type.
// Failures are logged; the in-memory transition stands.
func (c *Coordinator) commit(ctx context.Context, tr registry.Transition, types ...models.EventType) {
	if err := c.store.SaveTask(ctx, tr.Snapshot); err != nil {
		c.logger.Error("persist task snapshot", "task_id", tr.TaskID, "status", tr.To, "error", err)
	}

	ts := c.now()
	for _, typ := range types {
		event := models.Event{
			Type:      typ,
			TaskID:    tr.TaskID,
			OldStatus: tr.From,
			NewStatus: tr.To,
			Timestamp: ts,
			Snapshot:  tr.Snapshot.Clone(),
		}
		if err := c.publisher.Publish(event); err != nil {
			c.logger.Warn("publish task event", "task_id", tr.TaskID, "type", typ, "error", err)
		}
	}
}
