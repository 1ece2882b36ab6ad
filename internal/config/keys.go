package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys lists every configuration key in dot notation.
func Keys() []string {
	return []string{
		"storage.driver",
		"storage.path",
		"cleanup.retention",
		"cleanup.interval",
		"chain.max_depth",
		"events.buffer",
		"log.level",
		"log.format",
		"log.file",
		"plans.dir",
	}
}

// Get returns a configuration value by dot-notation key.
func Get(cfg *Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "storage.driver":
		return cfg.Storage.Driver, nil
	case "storage.path":
		return cfg.Storage.Path, nil
	case "cleanup.retention":
		return cfg.Cleanup.Retention.String(), nil
	case "cleanup.interval":
		return cfg.Cleanup.Interval.String(), nil
	case "chain.max_depth":
		return strconv.Itoa(cfg.Chain.MaxDepth), nil
	case "events.buffer":
		return strconv.Itoa(cfg.Events.Buffer), nil
	case "log.level":
		return cfg.Log.Level, nil
	case "log.format":
		return cfg.Log.Format, nil
	case "log.file":
		return cfg.Log.File, nil
	case "plans.dir":
		return cfg.Plans.Dir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// Set parses value and assigns it to the dot-notation key.
func Set(cfg *Config, key, value string) error {
	switch strings.ToLower(key) {
	case "storage.driver":
		cfg.Storage.Driver = value
	case "storage.path":
		cfg.Storage.Path = value
	case "cleanup.retention":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for cleanup.retention: %w", err)
		}
		cfg.Cleanup.Retention = d
	case "cleanup.interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for cleanup.interval: %w", err)
		}
		cfg.Cleanup.Interval = d
	case "chain.max_depth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for chain.max_depth: %w", err)
		}
		cfg.Chain.MaxDepth = n
	case "events.buffer":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for events.buffer: %w", err)
		}
		cfg.Events.Buffer = n
	case "log.level":
		cfg.Log.Level = value
	case "log.format":
		cfg.Log.Format = value
	case "log.file":
		cfg.Log.File = value
	case "plans.dir":
		cfg.Plans.Dir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
