package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// Registry holds the workflow definitions loaded from a directory.
//
// Definitions are read from *.yaml, *.yml and *.json files. A file that
// fails to parse is logged and skipped; the rest still load. Workflows are
// read-only once loaded, so Get hands out shared pointers.
//
// All public methods are thread-safe.
type Registry struct {
	dir    string
	mu     sync.RWMutex
	byName map[string]*Workflow
	logger Logger
}

// NewRegistry creates an empty registry over dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		byName: make(map[string]*Workflow),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the registry contents with the definitions in the
// directory. A missing directory yields an empty registry.
//
// Returns:
//   - int: number of workflows loaded
//   - error: if the directory cannot be read, or two files define the same name
func (r *Registry) Load() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		r.swap(map[string]*Workflow{})
		r.logger.Warn("workflow directory missing", "dir", r.dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading workflow dir: %w", err)
	}

	loaded := make(map[string]*Workflow)
	for _, e := range entries {
		if e.IsDir() || !isDefinition(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // operator-controlled directory
		if err != nil {
			r.logger.Warn("reading workflow file failed", "path", path, "error", err)
			continue
		}
		wf, err := Parse(data)
		if err != nil {
			r.logger.Warn("invalid workflow definition", "path", path, "error", err)
			continue
		}
		if _, dup := loaded[wf.Name]; dup {
			return 0, fmt.Errorf("%w: %q defined more than once (second in %s)", ErrInvalidWorkflow, wf.Name, e.Name())
		}
		loaded[wf.Name] = wf
	}

	r.swap(loaded)
	r.logger.Info("workflows loaded", "dir", r.dir, "count", len(loaded))
	return len(loaded), nil
}

// Get returns the workflow registered under name.
func (r *Registry) Get(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return wf, nil
}

// List returns all workflows sorted by name.
func (r *Registry) List() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, 0, len(r.byName))
	for _, wf := range r.byName {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the registry whenever a definition file changes, until
// ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isDefinition(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("workflow file changed", "path", ev.Name, "op", ev.Op.String())
			reload = time.After(reloadDebounce)
		case <-reload:
			reload = nil
			if _, err := r.Load(); err != nil {
				r.logger.Error("reloading workflows failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("workflow watcher error", "error", err)
		}
	}
}

func (r *Registry) swap(m map[string]*Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = m
}

func isDefinition(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
