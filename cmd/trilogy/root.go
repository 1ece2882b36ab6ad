package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petemoulton/trilogy/internal/config"
	"github.com/petemoulton/trilogy/internal/coordinator"
	"github.com/petemoulton/trilogy/internal/logging"
	"github.com/petemoulton/trilogy/internal/notify"
	"github.com/petemoulton/trilogy/internal/state"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "trilogy",
	Short: "Task dependency coordinator for multi-agent workflows",
	Long: `Trilogy tracks tasks handed out to agents, resolves their dependencies,
and unblocks or cancels downstream work as tasks complete or fail.

State is persisted to SQLite so a restarted daemon resumes where it left off.
Plans (YAML task lists) can be applied directly or dropped into the plans
directory watched by 'trilogy daemon'.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides storage.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(forceCompleteCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration from --config or the layered defaults and
// applies command-line overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// runtime is everything a command needs to talk to the coordinator.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   state.StateStore
	coord   *coordinator.Coordinator
	closers []io.Closer
}

// setup loads configuration, opens the store and rebuilds the coordinator
// from persisted state. Callers must Close the returned runtime.
func setup(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return setupWith(ctx, cfg, setupOptions{})
}

// setupOptions adjusts setupWith for long-running commands.
type setupOptions struct {
	// publisher builds the coordinator's event publisher from the process logger.
	publisher func(*slog.Logger) notify.Publisher
	// quiet discards log output unless log.file is set.
	quiet bool
}

func setupWith(ctx context.Context, cfg *config.Config, opts setupOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	logger, logFile, err := newLogger(cfg, opts.quiet)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		rt.closers = append(rt.closers, logFile)
	}
	rt.logger = logger

	store, err := openStore(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store)

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithStore(store),
		coordinator.WithMaxChainDepth(cfg.Chain.MaxDepth),
	}
	if opts.publisher != nil {
		coordOpts = append(coordOpts, coordinator.WithPublisher(opts.publisher(logger)))
	}
	rt.coord = coordinator.New(coordOpts...)

	if _, err := rt.coord.Recover(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("recover state: %w", err)
	}
	return rt, nil
}

// Close releases the store and log file in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil && rt.logger != nil {
			rt.logger.Warn("close resource", "error", err)
		}
	}
	rt.closers = nil
}

// newLogger builds the process logger. Output goes to log.file when set,
// otherwise to stderr, or nowhere when quiet.
func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, *os.File, error) {
	if cfg.Log.File == "" {
		if quiet {
			return logging.Discard(), nil, nil
		}
		return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil, nil
	}
	f, err := logging.OpenFile(cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(cfg.Log.Level, cfg.Log.Format, f), f, nil
}
