// Package plan loads YAML task plans and registers them with a coordinator.
//
// A plan is the hand-off format of the planning layer:
//
//	name: release
//	tasks:
//	  - id: build
//	  - id: test
//	    depends_on: [build]
//	    worker: ci
//	    metadata:
//	      priority: 2
package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/petemoulton/trilogy/internal/logging"
	"github.com/petemoulton/trilogy/internal/registry"
)

// Plan is a named batch of tasks.
type Plan struct {
	Name  string `yaml:"name"`
	Tasks []Task `yaml:"tasks"`
}

// Task is one entry of a plan.
type Task struct {
	// ID defaults to a random UUID when omitted.
	ID        string         `yaml:"id"`
	DependsOn []string       `yaml:"depends_on"`
	Worker    string         `yaml:"worker"`
	Metadata  map[string]any `yaml:"metadata"`
}

// Registrar accepts task registrations. *coordinator.Coordinator satisfies it.
type Registrar interface {
	Register(ctx context.Context, id string, dependencies []string, workerHint string, metadata json.RawMessage) (*registry.Future, error)
}

// Result reports what Apply did with each task.
type Result struct {
	// Registered lists task IDs in registration order.
	Registered []string
	// Errors maps task IDs to the reason their registration was rejected.
	Errors map[string]error
}

// Err joins the per-task errors, or returns nil.
func (r Result) Err() error {
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Errors[id]))
	}
	return errors.Join(errs...)
}

// Parse decodes a plan, assigns missing IDs and rejects duplicate IDs.
func Parse(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("plan %q: duplicate task id %q", p.Name, t.ID)
		}
		seen[t.ID] = true
	}
	return &p, nil
}

// Load reads and parses the plan file at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Apply registers every task of p. Tasks are registered dependencies first
// where the plan allows it; references to tasks outside the plan are passed
// through as forward references. A rejected task does not stop the rest.
func Apply(ctx context.Context, reg Registrar, p *Plan) Result {
	logger := logging.FromContext(ctx).With("plan", p.Name)
	res := Result{Errors: make(map[string]error)}
	for _, t := range p.ordered() {
		if err := ctx.Err(); err != nil {
			res.Errors[t.ID] = err
			continue
		}
		metadata, err := t.metadataJSON()
		if err != nil {
			res.Errors[t.ID] = err
			continue
		}
		if _, err := reg.Register(ctx, t.ID, t.DependsOn, t.Worker, metadata); err != nil {
			logger.Debug("plan task rejected", "task_id", t.ID, "error", err)
			res.Errors[t.ID] = err
			continue
		}
		res.Registered = append(res.Registered, t.ID)
	}
	logger.Debug("plan applied", "registered", len(res.Registered), "rejected", len(res.Errors))
	return res
}

// ordered returns the tasks in a dependency-first order. Tasks caught in a
// cycle inside the plan keep their file order at the end, where registration
// rejects them.
func (p *Plan) ordered() []Task {
	index := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		index[t.ID] = i
	}

	indegree := make([]int, len(p.Tasks))
	children := make([][]int, len(p.Tasks))
	for i, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if j, ok := index[dep]; ok {
				indegree[i]++
				children[j] = append(children[j], i)
			}
		}
	}

	var queue []int
	for i := range p.Tasks {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	out := make([]Task, 0, len(p.Tasks))
	placed := make([]bool, len(p.Tasks))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		out = append(out, p.Tasks[i])
		placed[i] = true
		for _, c := range children[i] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	for i, t := range p.Tasks {
		if !placed[i] {
			out = append(out, t)
		}
	}
	return out
}

func (t Task) metadataJSON() (json.RawMessage, error) {
	if len(t.Metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}
