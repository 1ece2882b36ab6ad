// Package tui provides the terminal monitor for a running trilogy daemon.
//
// The monitor is read-mostly. It shows:
//   - Task counts per status, refreshed on a timer
//   - A feed of recent task transitions from the event hub
//   - The dependency chain of a task typed into the lookup field
//
// Usage:
//
//	sub := hub.Subscribe()
//	defer hub.Unsubscribe(sub)
//
//	program := tui.NewProgram(tui.NewMonitor(coord, sub.Events()))
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// Users quit with Esc or Ctrl+C.
package tui
