package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/petemoulton/trilogy/pkg/models"
)

// DefaultRefreshInterval is how often the monitor re-reads status counts.
const DefaultRefreshInterval = time.Second

// Source is the read side of the coordinator used by the monitor.
type Source interface {
	SystemStatus() models.SystemStatus
	DependencyChain(id string) ([]models.ChainEntry, error)
}

// EventMsg carries one task transition from the hub.
type EventMsg struct {
	Event models.Event
}

// FeedClosedMsg is sent once the event channel has been closed.
type FeedClosedMsg struct{}

// ChainResultMsg carries the outcome of a dependency chain lookup.
type ChainResultMsg struct {
	TaskID string
	Chain  []models.ChainEntry
	Err    error
}

type refreshMsg time.Time

// Monitor is the bubbletea model for the daemon monitor.
type Monitor struct {
	// source answers status and chain queries.
	source Source
	// events is the hub subscription feeding the events panel.
	events <-chan models.Event
	// interval is the status refresh period.
	interval time.Duration

	status     models.SystemStatus
	feed       *EventsPanel
	input      *InputField
	chain      *ChainResultMsg
	feedClosed bool

	width    int
	height   int
	quitting bool
}

// NewMonitor creates a Monitor reading from source and events.
// A nil events channel disables the feed.
func NewMonitor(source Source, events <-chan models.Event) *Monitor {
	return &Monitor{
		source:   source,
		events:   events,
		interval: DefaultRefreshInterval,
		status:   source.SystemStatus(),
		feed:     NewEventsPanel(),
		input:    NewInputField(),
		width:    80,
		height:   24,
	}
}

// SetRefreshInterval changes the status refresh period.
func (m *Monitor) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.input.Focus(), m.tick(), m.waitForEvent())
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width)
		m.feed.SetSize(msg.Width, m.feedHeight())
		return m, nil

	case refreshMsg:
		m.status = m.source.SystemStatus()
		return m, m.tick()

	case EventMsg:
		m.feed.Add(msg.Event)
		return m, m.waitForEvent()

	case FeedClosedMsg:
		m.feedClosed = true
		return m, nil

	case ChainQueryMsg:
		return m, m.lookup(msg.TaskID)

	case ChainResultMsg:
		m.chain = &msg
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Monitor) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewStatus(),
		m.feed.View(),
		m.viewChain(),
		m.input.View(),
		m.viewFooter(),
	)
}

// viewStatus renders the per-status counts bar.
func (m *Monitor) viewStatus() string {
	parts := make([]string, 0, len(models.AllStatuses())+1)
	for _, status := range models.AllStatuses() {
		label := fmt.Sprintf("%s %s %d", statusIcon(status), status, m.status.Counts[status])
		parts = append(parts, statusStyle(status).Render(label))
	}
	parts = append(parts, mutedStyle.Render(fmt.Sprintf("total %d | awaiting %d", m.status.Total, m.status.ActiveFutures)))
	return titleStyle.Render("Tasks") + " " + strings.Join(parts, "  ")
}

// viewChain renders the result of the last chain lookup.
func (m *Monitor) viewChain() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Dependency chain"))
	b.WriteString("\n")

	switch {
	case m.chain == nil:
		b.WriteString(mutedStyle.Render("Enter a task ID below"))
	case m.chain.Err != nil:
		b.WriteString(errorStyle.Render(m.chain.Err.Error()))
	case len(m.chain.Chain) == 0:
		b.WriteString(mutedStyle.Render(m.chain.TaskID + " has no dependencies"))
	default:
		b.WriteString(idStyle.Render(m.chain.TaskID))
		for _, entry := range m.chain.Chain {
			b.WriteString("\n")
			b.WriteString(renderChainEntry(entry))
		}
	}
	return panelStyle.Width(m.width - 2).Render(b.String())
}

func renderChainEntry(entry models.ChainEntry) string {
	indent := strings.Repeat("  ", entry.Depth)
	if entry.Missing {
		return fmt.Sprintf("%s└ %s %s", indent, idStyle.Render(entry.TaskID), mutedStyle.Render("(not registered)"))
	}
	return fmt.Sprintf("%s└ %s %s", indent, idStyle.Render(entry.TaskID),
		statusStyle(entry.Status).Render(statusIcon(entry.Status)+" "+string(entry.Status)))
}

// viewFooter renders the help line.
func (m *Monitor) viewFooter() string {
	help := "Enter: look up chain | Esc/Ctrl+C: quit"
	if m.feedClosed {
		help = "event feed closed | " + help
	}
	return mutedStyle.Render(help)
}

func (m *Monitor) feedHeight() int {
	// status line, chain panel and input take roughly half the screen
	h := m.height/2 - 2
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *Monitor) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return FeedClosedMsg{}
		}
		return EventMsg{Event: event}
	}
}

func (m *Monitor) lookup(id string) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		chain, err := source.DependencyChain(id)
		return ChainResultMsg{TaskID: id, Chain: chain, Err: err}
	}
}

// NewProgram creates a bubbletea program for the monitor on the alternate screen.
func NewProgram(m *Monitor) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}
