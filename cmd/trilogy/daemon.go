package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petemoulton/trilogy/internal/coordinator"
	"github.com/petemoulton/trilogy/internal/logging"
	"github.com/petemoulton/trilogy/internal/notify"
	"github.com/petemoulton/trilogy/internal/plan"
	"github.com/petemoulton/trilogy/internal/tui"
)

var daemonTUI bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the coordinator with cleanup and the plan watcher",
	Long: `Run the coordinator as a long-lived process.

The daemon:
  - Rebuilds state from the database, demoting tasks left running
  - Evicts old finished tasks every cleanup.interval
  - Registers tasks from plan files dropped into plans.dir
  - Logs every task transition

With --tui, shows a live monitor instead of returning to the shell. Logs are
then written to log.file only.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonTUI, "tui", false, "Show the live monitor")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	instanceID := uuid.NewString()
	var hub *notify.Hub
	rt, err := setupWith(ctx, cfg, setupOptions{
		// stderr would draw over the monitor
		quiet: daemonTUI,
		publisher: func(logger *slog.Logger) notify.Publisher {
			logger = logger.With("instance", instanceID)
			hub = notify.NewHub(cfg.Events.Buffer, logger.With("component", "hub"))
			return notify.Multi{notify.LogPublisher{Logger: logger.With("component", "events")}, hub}
		},
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	defer hub.Close()

	logger := rt.logger.With("instance", instanceID)
	ctx = logging.WithLogger(ctx, logger)

	status := rt.coord.SystemStatus()
	logger.Info("daemon started",
		"tasks", status.Total,
		"db", resolveDBPath(rt.cfg.Storage.Path),
		"plans_dir", rt.cfg.Plans.Dir,
	)

	cleanup := coordinator.NewCleanupScheduler(rt.coord, rt.cfg.Cleanup.Interval, rt.cfg.Cleanup.Retention, logger)
	cleanup.Start(ctx)
	defer cleanup.Stop()

	watcher, err := plan.NewWatcher(rt.cfg.Plans.Dir, rt.coord, logger)
	if err != nil {
		return fmt.Errorf("watch plans: %w", err)
	}
	watchDone := make(chan struct{})
	var watchErr error
	go func() {
		defer close(watchDone)
		watchErr = watcher.Run(ctx)
	}()
	// Stop the watcher before the store closes.
	defer func() {
		stop()
		<-watchDone
	}()

	if daemonTUI {
		return runMonitor(ctx, rt.coord, hub, watchDone)
	}

	select {
	case <-ctx.Done():
		logger.Info("daemon stopping")
		return nil
	case <-watchDone:
		if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
			return fmt.Errorf("plan watcher: %w", watchErr)
		}
		return nil
	}
}

// runMonitor shows the live monitor until the user quits, ctx ends or the
// plan watcher exits.
func runMonitor(ctx context.Context, coord *coordinator.Coordinator, hub *notify.Hub, watchDone <-chan struct{}) error {
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	program := tui.NewProgram(tui.NewMonitor(coord, sub.Events()))
	go func() {
		select {
		case <-ctx.Done():
		case <-watchDone:
		}
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run monitor: %w", err)
	}
	return nil
}
