package main

import (
	"fmt"
	"path/filepath"

	"github.com/petemoulton/trilogy/internal/config"
	"github.com/petemoulton/trilogy/internal/state"
)

// openStore opens the snapshot store selected by storage.driver.
func openStore(cfg *config.Config) (state.StateStore, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return state.NewMemoryStore(), nil
	}

	db, err := openDB(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// openDB opens the configured path, or the project database when a project
// config exists, or the global database.
func openDB(driver, configured string) (*state.DB, error) {
	if configured != "" {
		return state.OpenWithDriver(driver, configured)
	}
	if root := projectRoot(); root != "" {
		return state.OpenProject(driver, root)
	}
	return state.OpenGlobal(driver)
}

// resolveDBPath reports the path openDB would use.
func resolveDBPath(configured string) string {
	if configured != "" {
		return configured
	}
	if root := projectRoot(); root != "" {
		return state.ProjectDBPath(root)
	}
	return state.GlobalDBPath()
}

func projectRoot() string {
	if projectConfig := config.GetProjectConfigPath(); projectConfig != "" {
		return filepath.Dir(projectConfig)
	}
	return ""
}
