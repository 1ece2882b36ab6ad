package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petemoulton/trilogy/internal/coordinator"
)

func writePlan(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
}

func TestWatcher_AppliesExistingAndNewPlans(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plans")
	c := coordinator.New()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	writePlan(t, dir, "first.yaml", "tasks:\n  - id: a\n")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	w, err := NewWatcher(dir, c, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	applied := make(chan string, 10)
	w.onApply = func(path string, _ Result) { applied <- filepath.Base(path) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor := func(name string) {
		t.Helper()
		select {
		case got := <-applied:
			if got != name {
				t.Fatalf("applied %s, want %s", got, name)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", name)
		}
	}

	waitFor("first.yaml")
	writePlan(t, dir, "second.yml", "tasks:\n  - id: b\n    depends_on: [a]\n")
	waitFor("second.yml")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	if _, err := c.Get("a"); err != nil {
		t.Errorf("a not registered: %v", err)
	}
	if _, err := c.Get("b"); err != nil {
		t.Errorf("b not registered: %v", err)
	}
	if got := len(w.Applied()); got != 2 {
		t.Errorf("Applied() has %d entries, want 2", got)
	}
}

func TestIsPlanFile(t *testing.T) {
	tests := map[string]bool{
		"plan.yaml":        true,
		"plan.YML":         true,
		"/x/y/release.yml": true,
		".hidden.yaml":     false,
		"plan.json":        false,
		"plan.yaml.swp":    false,
	}
	for name, want := range tests {
		if got := isPlanFile(name); got != want {
			t.Errorf("isPlanFile(%q) = %v, want %v", name, got, want)
		}
	}
}
