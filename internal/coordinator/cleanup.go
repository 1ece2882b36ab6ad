package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petemoulton/trilogy/internal/logging"
)

const (
	// DefaultRetention is how long terminal tasks are kept before eviction.
	DefaultRetention = 24 * time.Hour
	// DefaultCleanupInterval is how often the scheduler sweeps.
	DefaultCleanupInterval = 10 * time.Minute
)

// CleanupScheduler periodically evicts terminal tasks older than the
// retention period.
type CleanupScheduler struct {
	coord     *Coordinator
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	evicted int
}

// NewCleanupScheduler creates a scheduler for c. Non-positive durations fall
// back to the defaults.
func NewCleanupScheduler(c *Coordinator, interval, retention time.Duration, logger *slog.Logger) *CleanupScheduler {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CleanupScheduler{
		coord:     c,
		interval:  interval,
		retention: retention,
		logger:    logger.With("component", "cleanup"),
	}
}

// RunOnce evicts every task that is currently evictable and returns their IDs.
// Tasks that gained a live dependent since the scan are skipped.
func (s *CleanupScheduler) RunOnce(ctx context.Context) []string {
	candidates := s.coord.Evictable(s.coord.now(), s.retention)

	var evicted []string
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := s.coord.Evict(ctx, id); err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Debug("skip eviction", "task_id", id, "error", err)
			}
			continue
		}
		evicted = append(evicted, id)
	}

	if len(evicted) > 0 {
		s.logger.Info("evicted terminal tasks", "count", len(evicted), "retention", s.retention)
	}
	s.mu.Lock()
	s.evicted += len(evicted)
	s.mu.Unlock()
	return evicted
}

// Start begins sweeping every interval until ctx is done or Stop is called.
// Calling Start on a running scheduler is a no-op.
func (s *CleanupScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}(s.done)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Evicted returns the total number of tasks evicted by this scheduler.
func (s *CleanupScheduler) Evicted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}
