package plan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/petemoulton/trilogy/internal/logging"
)

// Watcher applies every plan file that appears in a directory.
// Each file is applied once; a file that fails to parse is retried on its
// next write. Writers should create plans elsewhere and rename them into the
// directory so a half-written file is never picked up.
type Watcher struct {
	dir     string
	reg     Registrar
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	applied map[string]Result
	// onApply is called after each successful apply, for tests.
	onApply func(path string, res Result)
}

// NewWatcher watches dir, creating it if needed.
func NewWatcher(dir string, reg Registrar, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plans directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Watcher{
		dir:     dir,
		reg:     reg,
		logger:  logger.With("component", "plan-watcher"),
		watcher: fw,
		applied: make(map[string]Result),
	}, nil
}

// Run applies the plans already present in the directory, then applies new
// ones as they arrive until ctx is done. It closes the underlying watcher on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read plans directory: %w", err)
	}
	var existing []string
	for _, e := range entries {
		if !e.IsDir() && isPlanFile(e.Name()) {
			existing = append(existing, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(existing)
	for _, path := range existing {
		w.apply(ctx, path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isPlanFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.apply(ctx, event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Applied returns the result of every plan applied so far, keyed by path.
func (w *Watcher) Applied() map[string]Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]Result, len(w.applied))
	for k, v := range w.applied {
		out[k] = v
	}
	return out
}

func (w *Watcher) apply(ctx context.Context, path string) {
	w.mu.Lock()
	_, done := w.applied[path]
	w.mu.Unlock()
	if done {
		return
	}

	p, err := Load(path)
	if err != nil {
		// Usually a partially written file; the next write retries.
		w.logger.Debug("plan not loadable yet", "path", path, "error", err)
		return
	}

	res := Apply(ctx, w.reg, p)
	w.mu.Lock()
	w.applied[path] = res
	hook := w.onApply
	w.mu.Unlock()

	if err := res.Err(); err != nil {
		w.logger.Warn("plan applied with errors", "path", path, "plan", p.Name, "registered", len(res.Registered), "error", err)
	} else {
		w.logger.Info("plan applied", "path", path, "plan", p.Name, "registered", len(res.Registered))
	}
	if hook != nil {
		hook(path, res)
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.applied, path)
}

func isPlanFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	default:
		return false
	}
}
