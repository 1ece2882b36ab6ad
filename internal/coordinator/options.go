package coordinator

import (
	"log/slog"
	"time"

	"github.com/petemoulton/trilogy/internal/notify"
	"github.com/petemoulton/trilogy/internal/state"
)

// DefaultMaxChainDepth bounds DependencyChain when no depth is configured.
const DefaultMaxChainDepth = 50

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	store         state.TaskStore
	publisher     notify.Publisher
	now           func() time.Time
	maxChainDepth int
}

// WithLogger sets the structured logger. Records are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore sets the snapshot store. Defaults to an in-memory store.
func WithStore(s state.TaskStore) Option {
	return func(o *options) { o.store = s }
}

// WithPublisher sets the event publisher. Events are discarded by default.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxChainDepth bounds how far DependencyChain walks.
func WithMaxChainDepth(n int) Option {
	return func(o *options) { o.maxChainDepth = n }
}
