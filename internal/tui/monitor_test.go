package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/petemoulton/trilogy/pkg/models"
)

type fakeSource struct {
	status  models.SystemStatus
	chains  map[string][]models.ChainEntry
	queries []string
}

func (f *fakeSource) SystemStatus() models.SystemStatus {
	return f.status
}

func (f *fakeSource) DependencyChain(id string) ([]models.ChainEntry, error) {
	f.queries = append(f.queries, id)
	chain, ok := f.chains[id]
	if !ok {
		return nil, errors.New("task not found: " + id)
	}
	return chain, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: models.SystemStatus{
			Counts: map[models.TaskStatus]int{
				models.TaskStatusPending:   2,
				models.TaskStatusCompleted: 1,
			},
			Total:         3,
			ActiveFutures: 2,
		},
		chains: map[string][]models.ChainEntry{
			"deploy": {
				{TaskID: "build", Status: models.TaskStatusCompleted, Depth: 1},
				{TaskID: "fetch", Depth: 2, Missing: true},
			},
		},
	}
}

func TestNewMonitor(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)

	if m.interval != DefaultRefreshInterval {
		t.Errorf("interval = %v, want %v", m.interval, DefaultRefreshInterval)
	}
	if m.status.Total != 3 {
		t.Errorf("initial status total = %d, want 3", m.status.Total)
	}
	if m.Init() == nil {
		t.Error("Init should return a command")
	}
}

func TestMonitor_RefreshReadsStatus(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, nil)

	src.status.Counts[models.TaskStatusRunning] = 4
	src.status.Total = 7
	_, cmd := m.Update(refreshMsg(time.Now()))

	if m.status.Total != 7 {
		t.Errorf("status total = %d, want 7", m.status.Total)
	}
	if cmd == nil {
		t.Error("refresh should schedule the next tick")
	}
	if view := m.View(); !strings.Contains(view, "running 4") {
		t.Errorf("View should show the running count, got:\n%s", view)
	}
}

func TestMonitor_EventFeed(t *testing.T) {
	events := make(chan models.Event, 1)
	m := NewMonitor(newFakeSource(), events)

	events <- models.Event{
		Type:      models.EventStatusChange,
		TaskID:    "build",
		OldStatus: models.TaskStatusRunning,
		NewStatus: models.TaskStatusCompleted,
		Timestamp: time.Now(),
	}
	msg := m.waitForEvent()()
	eventMsg, ok := msg.(EventMsg)
	if !ok {
		t.Fatalf("waitForEvent returned %T, want EventMsg", msg)
	}

	_, cmd := m.Update(eventMsg)
	if m.feed.Len() != 1 {
		t.Errorf("feed length = %d, want 1", m.feed.Len())
	}
	if cmd == nil {
		t.Error("an event should re-arm the feed")
	}
	if view := m.View(); !strings.Contains(view, "build") {
		t.Errorf("View should show the event, got:\n%s", view)
	}

	close(events)
	if _, ok := m.waitForEvent()().(FeedClosedMsg); !ok {
		t.Error("closed channel should yield FeedClosedMsg")
	}
	m.Update(FeedClosedMsg{})
	if !strings.Contains(m.View(), "event feed closed") {
		t.Error("View should note that the feed closed")
	}
}

func TestMonitor_NilEventsDisablesFeed(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)
	if cmd := m.waitForEvent(); cmd != nil {
		t.Error("waitForEvent should be nil without a channel")
	}
}

func TestMonitor_ChainLookup(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, nil)

	_, cmd := m.Update(ChainQueryMsg{TaskID: "deploy"})
	if cmd == nil {
		t.Fatal("ChainQueryMsg should return a lookup command")
	}
	result, ok := cmd().(ChainResultMsg)
	if !ok {
		t.Fatal("lookup should produce ChainResultMsg")
	}
	if len(result.Chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(result.Chain))
	}

	m.Update(result)
	view := m.View()
	for _, want := range []string{"deploy", "build", "fetch", "not registered"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q:\n%s", want, view)
		}
	}
	if len(src.queries) != 1 || src.queries[0] != "deploy" {
		t.Errorf("queries = %v, want [deploy]", src.queries)
	}
}

func TestMonitor_ChainLookupError(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)

	_, cmd := m.Update(ChainQueryMsg{TaskID: "ghost"})
	m.Update(cmd())

	if !strings.Contains(m.View(), "task not found: ghost") {
		t.Errorf("View should show the lookup error, got:\n%s", m.View())
	}
}

func TestMonitor_QuitKeys(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
	}{
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(newFakeSource(), nil)
			_, cmd := m.Update(tt.msg)
			if cmd == nil {
				t.Fatal("quit key should return a command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("quit key should return tea.Quit")
			}
			if m.View() != "Goodbye!\n" {
				t.Errorf("View after quit = %q", m.View())
			}
		})
	}
}

func TestMonitor_TypingDoesNotQuit(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if m.quitting {
		t.Error("typing q should not quit")
	}
	if m.input.Value() != "q" {
		t.Errorf("input value = %q, want %q", m.input.Value(), "q")
	}
}

func TestMonitor_WindowSize(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
	if m.feed.height != 18 {
		t.Errorf("feed height = %d, want 18", m.feed.height)
	}
}

func TestMonitor_SetRefreshInterval(t *testing.T) {
	m := NewMonitor(newFakeSource(), nil)

	m.SetRefreshInterval(5 * time.Second)
	if m.interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", m.interval)
	}
	m.SetRefreshInterval(0)
	if m.interval != 5*time.Second {
		t.Errorf("non-positive interval should be ignored, got %v", m.interval)
	}
}
