// Package notify broadcasts task transition events to observers.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petemoulton/trilogy/pkg/models"
)

// Publisher delivers transition events. Publish must not block on slow
// observers and must be safe for concurrent use.
type Publisher interface {
	Publish(event models.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(event models.Event) error

// Publish calls f(event).
func (f PublisherFunc) Publish(event models.Event) error {
	return f(event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(models.Event) error { return nil }

// Multi fans one event out to several publishers. Every publisher is called
// even when an earlier one fails; the failures are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(event models.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes every event to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(event models.Event) error {
	if p.Logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if event.Type == models.EventForceComplete {
		level = slog.LevelWarn
	}
	p.Logger.Log(context.Background(), level, "task event",
		"type", event.Type,
		"task_id", event.TaskID,
		"from", event.OldStatus,
		"to", event.NewStatus,
	)
	return nil
}
