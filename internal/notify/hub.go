package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petemoulton/trilogy/pkg/models"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 256

// Hub fans events out to subscribers over buffered channels. A subscriber
// whose buffer is full misses the event; the drop is counted, never waited on.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

// Subscription is one observer's view of the hub.
type Subscription struct {
	events  chan models.Event
	dropped atomic.Uint64
}

// Events returns the receive side of the subscription. It is closed by
// Unsubscribe or Hub.Close.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// NewHub creates a hub whose subscribers buffer up to buffer events each.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns
// a subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{events: make(chan models.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.events)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.events)
}

// Publish delivers event to every subscriber without blocking.
func (h *Hub) Publish(event models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}

	for s := range h.subs {
		select {
		case s.events <- event:
		default:
			s.dropped.Add(1)
			count := h.dropped.Add(1)
			if count%10 == 1 && h.logger != nil { // every 10th drop
				h.logger.Warn("event buffer full, dropped event",
					"total_dropped", count,
					"type", event.Type,
					"task_id", event.TaskID,
				)
			}
		}
	}
	return nil
}

// DroppedCount returns the total number of undelivered events across all
// subscribers.
func (h *Hub) DroppedCount() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.events)
		delete(h.subs, s)
	}
}
