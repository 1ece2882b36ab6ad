package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// On Linux, we can't create files under /proc
	_, err := Open("/proc/nonexistent/test.db")
	if err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestOpenWithDriver_Unsupported(t *testing.T) {
	_, err := OpenWithDriver("postgres", tempDBPath(t))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "postgres") {
		t.Errorf("error %q should name the driver", err)
	}
}

func TestOpenWithDriver_SQLite3(t *testing.T) {
	db, err := OpenWithDriver(DriverSQLite3, tempDBPath(t))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED") {
			t.Skipf("cgo sqlite3 driver unavailable: %v", err)
		}
		t.Fatalf("OpenWithDriver failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		t.Fatalf("query tasks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestOpenProjectAndGlobal(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	root := t.TempDir()

	project, err := OpenProject(DriverSQLite, root)
	if err != nil {
		t.Fatalf("OpenProject failed: %v", err)
	}
	defer project.Close()
	if want := filepath.Join(root, ".trilogy", "state.db"); project.Path() != want {
		t.Errorf("OpenProject path = %q, want %q", project.Path(), want)
	}

	global, err := OpenGlobal(DriverSQLite)
	if err != nil {
		t.Fatalf("OpenGlobal failed: %v", err)
	}
	defer global.Close()
	if global.Path() != GlobalDBPath() {
		t.Errorf("OpenGlobal path = %q, want %q", global.Path(), GlobalDBPath())
	}
	if _, err := os.Stat(GlobalDBPath()); err != nil {
		t.Errorf("global database not created: %v", err)
	}

	if _, err := OpenProject("postgres", root); err == nil {
		t.Error("OpenProject with unsupported driver should fail")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	_, err = db.QueryContext(context.Background(), "SELECT 1")
	if err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	tables := []string{"schema_version", "tasks"}
	for _, table := range tables {
		var count int
		row := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}

	indexes := []string{"idx_tasks_status", "idx_tasks_finished_at"}
	for _, index := range indexes {
		var count int
		row := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check index %s: %v", index, err)
		}
		if count != 1 {
			t.Errorf("index %s does not exist", index)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	row := db.conn.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}

	var rows int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("failed to count schema versions: %v", err)
	}
	if rows != 2 {
		t.Errorf("schema_version rows = %d, want 2", rows)
	}
}

func TestTransaction_Commit(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			_, err := tx.Exec(`INSERT INTO tasks (id, status, created_at, updated_at) VALUES (?, 'pending', ?, ?)`,
				fmt.Sprintf("tx-%d", i), "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)

	wantErr := fmt.Errorf("boom")
	err := db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO tasks (id, status, created_at, updated_at) VALUES ('rb', 'pending', ?, ?)`,
			"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
		if err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Transaction error = %v, want %v", err, wantErr)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after rollback", count)
	}
}

func TestGlobalDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	if got, want := GlobalDBPath(), filepath.Join("/tmp/xdg-data", "trilogy", "trilogy.db"); got != want {
		t.Errorf("GlobalDBPath() = %q, want %q", got, want)
	}
}

func TestProjectDBPath(t *testing.T) {
	if got, want := ProjectDBPath("/repo"), filepath.Join("/repo", ".trilogy", "state.db"); got != want {
		t.Errorf("ProjectDBPath() = %q, want %q", got, want)
	}
}
