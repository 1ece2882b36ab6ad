package registry

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is the single-resolution completion handle of a task.
// It settles exactly once: with the result on Completed, or with an error on
// Failed and Cancelled. Only the registry can settle it.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve settles the future with a result. It reports false if the future
// was already settled.
func (f *Future) resolve(result json.RawMessage) bool {
	settled := false
	f.once.Do(func() {
		f.result = result
		close(f.done)
		settled = true
	})
	return settled
}

// reject settles the future with an error. It reports false if the future
// was already settled.
func (f *Future) reject(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done returns a channel that is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx is done.
func (f *Future) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
