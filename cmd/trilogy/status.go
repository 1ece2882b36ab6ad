package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/petemoulton/trilogy/pkg/models"
)

var statusShowTasks bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts per status",
	Long: `Display the persisted state of the task registry.

Shows:
  - Number of tasks in each status
  - Total tasks and tasks still awaiting a result
  - With --tasks, one line per task with its dependencies`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusShowTasks, "tasks", "t", false, "List every task")
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderStatusTable(rt.coord.SystemStatus()))

	if statusShowTasks {
		renderTaskList(out, rt.coord.List(), time.Now())
	}
	return nil
}

// renderStatusTable draws one bordered row per status.
func renderStatusTable(status models.SystemStatus) string {
	label := lipgloss.NewStyle().Width(12)
	count := lipgloss.NewStyle().Width(6).Align(lipgloss.Right)

	rows := make([]string, 0, len(models.AllStatuses())+2)
	for _, s := range models.AllStatuses() {
		rows = append(rows, label.Render(string(s))+count.Render(fmt.Sprint(status.Counts[s])))
	}
	rows = append(rows,
		label.Bold(true).Render("total")+count.Bold(true).Render(fmt.Sprint(status.Total)),
		label.Render("awaiting")+count.Render(fmt.Sprint(status.ActiveFutures)),
	)

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return box.Render(strings.Join(rows, "\n"))
}

// renderTaskList prints one line per task.
func renderTaskList(w io.Writer, tasks []*models.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-24s %s", t.ID, colorStatus(t.Status))
		if len(t.Dependencies) > 0 {
			line += "  deps: " + strings.Join(t.Dependencies, ", ")
		}
		if t.AssignedWorker != "" {
			line += "  worker: " + t.AssignedWorker
		}
		if t.CancelledBy != "" {
			line += "  cancelled by: " + t.CancelledBy
		}
		if t.Forced {
			line += "  " + color.MagentaString("(forced)")
		}
		line += fmt.Sprintf("  (%s ago)", formatDuration(now.Sub(t.UpdatedAt)))
		fmt.Fprintln(w, line)
	}
}

// colorStatus renders a status with its terminal color.
func colorStatus(s models.TaskStatus) string {
	var attr color.Attribute
	switch s {
	case models.TaskStatusPending:
		attr = color.FgCyan
	case models.TaskStatusRunning:
		attr = color.FgYellow
	case models.TaskStatusBlocked:
		attr = color.FgHiBlack
	case models.TaskStatusCompleted:
		attr = color.FgGreen
	case models.TaskStatusFailed:
		attr = color.FgRed
	default:
		attr = color.FgMagenta
	}
	return color.New(attr).Sprintf("%-9s", s)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
