package plan

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/petemoulton/trilogy/internal/coordinator"
	"github.com/petemoulton/trilogy/pkg/models"
)

const samplePlan = `
name: release
tasks:
  - id: publish
    depends_on: [test, docs]
    worker: deployer
  - id: test
    depends_on: [build]
    metadata:
      priority: 2
      labels: [ci]
  - id: build
  - id: docs
`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Name != "release" {
		t.Errorf("Name = %q, want release", p.Name)
	}
	if len(p.Tasks) != 4 {
		t.Fatalf("len(Tasks) = %d, want 4", len(p.Tasks))
	}
	if diff := cmp.Diff([]string{"test", "docs"}, p.Tasks[0].DependsOn); diff != "" {
		t.Errorf("publish deps mismatch (-want +got):\n%s", diff)
	}
	if p.Tasks[0].Worker != "deployer" {
		t.Errorf("Worker = %q, want deployer", p.Tasks[0].Worker)
	}
}

func TestParse_AssignsUUIDs(t *testing.T) {
	p, err := Parse(strings.NewReader("tasks:\n  - worker: a\n  - worker: b\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for _, task := range p.Tasks {
		if _, err := uuid.Parse(task.ID); err != nil {
			t.Errorf("generated id %q is not a UUID: %v", task.ID, err)
		}
	}
	if p.Tasks[0].ID == p.Tasks[1].ID {
		t.Error("generated ids should differ")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"duplicate id", "tasks:\n  - id: a\n  - id: a\n", "duplicate task id"},
		{"unknown field", "tasks:\n  - id: a\n    needs: [b]\n", "needs"},
		{"not yaml", "tasks: [\n", "decode plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	p, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse(empty) failed: %v", err)
	}
	if len(p.Tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(p.Tasks))
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(p.Tasks) != 4 {
		t.Errorf("len(Tasks) = %d, want 4", len(p.Tasks))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApply_DependencyOrder(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := coordinator.New()

	res := Apply(context.Background(), c, p)
	if err := res.Err(); err != nil {
		t.Fatalf("Apply errors: %v", err)
	}
	if diff := cmp.Diff([]string{"build", "docs", "test", "publish"}, res.Registered); diff != "" {
		t.Errorf("registration order mismatch (-want +got):\n%s", diff)
	}

	task, err := c.Get("test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(task.Metadata, &meta); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if meta["priority"] != float64(2) {
		t.Errorf("metadata = %v", meta)
	}
	if task.Status != models.TaskStatusBlocked {
		t.Errorf("test status = %s, want blocked", task.Status)
	}
	if pub, _ := c.Get("publish"); pub.WorkerHint != "deployer" {
		t.Errorf("publish worker hint = %q", pub.WorkerHint)
	}
}

func TestApply_PartialFailure(t *testing.T) {
	c := coordinator.New()
	if _, err := c.Register(context.Background(), "exists", nil, "", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p, err := Parse(strings.NewReader(`
tasks:
  - id: exists
  - id: loop-a
    depends_on: [loop-b]
  - id: loop-b
    depends_on: [loop-a]
  - id: fine
    depends_on: [outside]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	res := Apply(context.Background(), c, p)
	if !errors.Is(res.Errors["exists"], coordinator.ErrDuplicateTask) {
		t.Errorf("exists error = %v, want ErrDuplicateTask", res.Errors["exists"])
	}
	// The first half of the loop registers as a forward reference; the second closes it.
	if !errors.Is(res.Errors["loop-b"], coordinator.ErrCircularDependency) {
		t.Errorf("loop-b error = %v, want ErrCircularDependency", res.Errors["loop-b"])
	}
	if diff := cmp.Diff([]string{"fine", "loop-a"}, res.Registered); diff != "" {
		t.Errorf("registered mismatch (-want +got):\n%s", diff)
	}
	if res.Err() == nil {
		t.Error("Err() should report failures")
	}
}

func TestApply_CancelledContext(t *testing.T) {
	p, _ := Parse(strings.NewReader("tasks:\n  - id: a\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Apply(ctx, coordinator.New(), p)
	if len(res.Registered) != 0 || !errors.Is(res.Errors["a"], context.Canceled) {
		t.Errorf("result = %+v", res)
	}
}
