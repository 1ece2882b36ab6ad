// Package config handles configuration loading and management for trilogy.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRILOGY_STORAGE_DRIVER overrides storage.driver.
const EnvPrefix = "TRILOGY"

// ProjectConfigName is the project-level override file searched for upward
// from the working directory.
const ProjectConfigName = ".trilogy.yaml"

// Config holds all configuration for trilogy.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Events  EventsConfig  `mapstructure:"events"`
	Log     LogConfig     `mapstructure:"log"`
	Plans   PlansConfig   `mapstructure:"plans"`
}

// StorageConfig selects where task snapshots are persisted.
type StorageConfig struct {
	// Driver is "sqlite" (pure Go), "sqlite3" (cgo) or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the database file. Empty means the project or global default.
	Path string `mapstructure:"path"`
}

// CleanupConfig holds eviction settings.
type CleanupConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
}

// ChainConfig bounds dependency chain inspection.
type ChainConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// EventsConfig sizes notification buffers.
type EventsConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File receives log output when set; stderr otherwise.
	File string `mapstructure:"file"`
}

// PlansConfig configures the plan directory watched by the daemon.
type PlansConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TRILOGY_*)
// 2. Project config (.trilogy.yaml in current directory or parent)
// 3. User config (~/.config/trilogy/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Storage.Path = os.ExpandEnv(cfg.Storage.Path)
	cfg.Log.File = os.ExpandEnv(cfg.Log.File)
	cfg.Plans.Dir = os.ExpandEnv(cfg.Plans.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv maps storage.driver to TRILOGY_STORAGE_DRIVER and so on.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))
	for _, key := range Keys() {
		value, _ := Get(cfg, key)
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// Validate rejects settings the rest of the system cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverSQLite3, DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q: want %s, %s or %s", c.Storage.Driver, DriverSQLite, DriverSQLite3, DriverMemory)
	}
	if c.Cleanup.Retention <= 0 {
		return fmt.Errorf("invalid cleanup.retention %s: must be positive", c.Cleanup.Retention)
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("invalid cleanup.interval %s: must be positive", c.Cleanup.Interval)
	}
	if c.Chain.MaxDepth <= 0 {
		return fmt.Errorf("invalid chain.max_depth %d: must be positive", c.Chain.MaxDepth)
	}
	if c.Events.Buffer <= 0 {
		return fmt.Errorf("invalid events.buffer %d: must be positive", c.Events.Buffer)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Storage drivers accepted by storage.driver.
const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
	DriverMemory  = "memory"
)

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("cleanup.retention", d.Cleanup.Retention.String())
	v.SetDefault("cleanup.interval", d.Cleanup.Interval.String())
	v.SetDefault("chain.max_depth", d.Chain.MaxDepth)
	v.SetDefault("events.buffer", d.Events.Buffer)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("plans.dir", d.Plans.Dir)
}

// getUserConfigDir returns the XDG config directory for trilogy.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "trilogy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "trilogy")
	}
	return filepath.Join(home, ".config", "trilogy")
}

// findProjectConfig searches for .trilogy.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Cleanup: CleanupConfig{
			Retention: 24 * time.Hour,
			Interval:  10 * time.Minute,
		},
		Chain: ChainConfig{
			MaxDepth: 50,
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Plans: PlansConfig{
			Dir: "plans",
		},
	}
}
