package notify

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petemoulton/trilogy/pkg/models"
)

func event(id string, from, to models.TaskStatus) models.Event {
	return models.Event{
		Type:      models.EventStatusChange,
		TaskID:    id,
		OldStatus: from,
		NewStatus: to,
		Timestamp: time.Now(),
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe()
	b := h.Subscribe()

	if err := h.Publish(event("t1", models.TaskStatusPending, models.TaskStatusRunning)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for name, s := range map[string]*Subscription{"a": a, "b": b} {
		select {
		case ev := <-s.Events():
			if ev.TaskID != "t1" || ev.NewStatus != models.TaskStatusRunning {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := NewHub(1, logger)
	s := h.Subscribe()

	for i := 0; i < 3; i++ {
		h.Publish(event("t1", models.TaskStatusBlocked, models.TaskStatusPending))
	}

	if got := s.Dropped(); got != 2 {
		t.Errorf("subscriber Dropped() = %d, want 2", got)
	}
	if got := h.DroppedCount(); got != 2 {
		t.Errorf("DroppedCount() = %d, want 2", got)
	}
	if !strings.Contains(buf.String(), "dropped event") {
		t.Errorf("expected a drop warning, got %q", buf.String())
	}
}

func TestHub_PublishDoesNotBlock(t *testing.T) {
	h := NewHub(1, nil)
	h.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(event("t", models.TaskStatusPending, models.TaskStatusRunning))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub(2, nil)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Unsubscribe(a)
	h.Unsubscribe(a) // second call is a no-op
	if _, ok := <-a.Events(); ok {
		t.Error("unsubscribed channel should be closed")
	}
	if h.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", h.Subscribers())
	}

	h.Close()
	h.Close()
	if _, ok := <-b.Events(); ok {
		t.Error("channel should be closed after hub Close")
	}
	if err := h.Publish(event("t", models.TaskStatusPending, models.TaskStatusRunning)); err != nil {
		t.Errorf("Publish after Close = %v, want nil", err)
	}

	late := h.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription to closed hub should be closed")
	}
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	h := NewHub(1000, nil)
	s := h.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(event("t", models.TaskStatusPending, models.TaskStatusRunning))
			}
		}()
	}
	wg.Wait()

	if got := len(s.Events()); got != 500 {
		t.Errorf("buffered events = %d, want 500", got)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	var calls []string
	m := Multi{
		PublisherFunc(func(models.Event) error { calls = append(calls, "a"); return errA }),
		nil,
		PublisherFunc(func(models.Event) error { calls = append(calls, "b"); return nil }),
	}

	err := m.Publish(event("t", models.TaskStatusRunning, models.TaskStatusCompleted))
	if !errors.Is(err, errA) {
		t.Errorf("Multi error = %v, want to wrap %v", err, errA)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want both publishers called", calls)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	ev := event("t9", models.TaskStatusBlocked, models.TaskStatusCompleted)
	ev.Type = models.EventForceComplete
	if err := p.Publish(ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "task_id=t9") {
		t.Errorf("unexpected log output %q", out)
	}

	if err := (LogPublisher{}).Publish(ev); err != nil {
		t.Errorf("nil logger Publish = %v, want nil", err)
	}
	if err := (Nop{}).Publish(ev); err != nil {
		t.Errorf("Nop Publish = %v, want nil", err)
	}
}
