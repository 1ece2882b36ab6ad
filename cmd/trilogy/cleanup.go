package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cleanupRetention time.Duration
	cleanupDryRun    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict old finished tasks",
	Long: `Remove completed, failed and cancelled tasks that finished longer ago than
the retention period and that no unfinished task depends on.

Examples:
  trilogy cleanup                   # Use cleanup.retention from config
  trilogy cleanup --retention 1h    # Evict anything finished over an hour ago
  trilogy cleanup --dry-run         # Show what would be evicted`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupRetention, "retention", 0, "Retention period (default: cleanup.retention)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be evicted without evicting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	retention := rt.cfg.Cleanup.Retention
	if cleanupRetention > 0 {
		retention = cleanupRetention
	}

	out := cmd.OutOrStdout()
	ids := rt.coord.Evictable(time.Now(), retention)
	if len(ids) == 0 {
		fmt.Fprintf(out, "No tasks finished more than %s ago.\n", retention)
		return nil
	}

	if cleanupDryRun {
		fmt.Fprintf(out, "Would evict %d task(s):\n", len(ids))
		for _, id := range ids {
			fmt.Fprintf(out, "  - %s\n", id)
		}
		return nil
	}

	evicted := 0
	for _, id := range ids {
		if err := rt.coord.Evict(cmd.Context(), id); err != nil {
			fmt.Fprintf(out, "Skipped %s: %v\n", id, err)
			continue
		}
		evicted++
	}
	fmt.Fprintf(out, "Evicted %d task(s).\n", evicted)
	return nil
}
