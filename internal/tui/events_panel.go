package tui

import (
	"fmt"
	"strings"

	"github.com/petemoulton/trilogy/pkg/models"
)

// DefaultMaxEvents bounds the feed kept by an EventsPanel.
const DefaultMaxEvents = 200

// EventsPanel shows the most recent task transitions, newest last.
type EventsPanel struct {
	events    []models.Event
	maxEvents int
	width     int
	height    int
}

// NewEventsPanel creates an empty EventsPanel.
func NewEventsPanel() *EventsPanel {
	return &EventsPanel{
		maxEvents: DefaultMaxEvents,
		width:     80,
		height:    10,
	}
}

// Add appends an event, dropping the oldest once the feed is full.
func (p *EventsPanel) Add(event models.Event) {
	p.events = append(p.events, event)
	if len(p.events) > p.maxEvents {
		p.events = p.events[len(p.events)-p.maxEvents:]
	}
}

// Len returns the number of events held.
func (p *EventsPanel) Len() int {
	return len(p.events)
}

// SetSize updates the panel dimensions.
func (p *EventsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders the events that fit in the panel.
func (p *EventsPanel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Events"))
	b.WriteString("\n")

	if len(p.events) == 0 {
		b.WriteString(mutedStyle.Render("No events yet"))
		return panelStyle.Width(p.width - 2).Render(b.String())
	}

	visible := p.height
	if visible < 1 {
		visible = 1
	}
	start := 0
	if len(p.events) > visible {
		start = len(p.events) - visible
	}

	for _, event := range p.events[start:] {
		b.WriteString(p.renderEvent(event))
		b.WriteString("\n")
	}
	return panelStyle.Width(p.width - 2).Render(strings.TrimRight(b.String(), "\n"))
}

func (p *EventsPanel) renderEvent(event models.Event) string {
	ts := timeStyle.Render(event.Timestamp.Format("15:04:05"))
	id := idStyle.Render(truncate(event.TaskID, 24))

	if event.Type == models.EventForceComplete {
		return fmt.Sprintf("%s %s %s", ts, id, forcedStyle.Render("force-completed"))
	}

	to := statusStyle(event.NewStatus).Render(statusIcon(event.NewStatus) + " " + string(event.NewStatus))
	line := fmt.Sprintf("%s %s %s", ts, id, to)
	if event.OldStatus != "" {
		line = fmt.Sprintf("%s %s %s -> %s", ts, id, mutedStyle.Render(string(event.OldStatus)), to)
	}
	if event.Snapshot != nil {
		switch {
		case event.Snapshot.Error != "" && event.NewStatus == models.TaskStatusFailed:
			line += " " + errorStyle.Render(truncate(event.Snapshot.Error, 40))
		case event.Snapshot.CancelledBy != "":
			line += " " + mutedStyle.Render("by "+event.Snapshot.CancelledBy)
		}
	}
	return line
}
