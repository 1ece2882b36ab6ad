package models

import "time"

// EventType identifies the kind of transition notification.
type EventType string

const (
	// EventStatusChange is published for every ordinary status transition.
	EventStatusChange EventType = "status_change"
	// EventForceComplete is published when a task is completed by override.
	EventForceComplete EventType = "force_complete"
)

// Event describes a committed task transition.
type Event struct {
	Type      EventType  `json:"type"`
	TaskID    string     `json:"task_id"`
	OldStatus TaskStatus `json:"old_status,omitempty"`
	NewStatus TaskStatus `json:"new_status"`
	Timestamp time.Time  `json:"timestamp"`
	// Snapshot is a copy of the task taken right after the transition.
	Snapshot *Task `json:"snapshot,omitempty"`
}
