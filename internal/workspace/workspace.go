// Package workspace manages the set of open projects.
//
// A Workspace owns project facades keyed by filesystem path and runs
// the resource watcher that keeps each project's resource property
// cache in sync with file deletions and renames. At most one Workspace
// is active per process.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/config"
	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"github.com/fyrsmithlabs/projmeta/internal/project"
)

// Common errors.
var (
	ErrWorkspaceActive  = errors.New("another workspace is already active")
	ErrWorkspaceClosed  = errors.New("workspace is closed")
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectOpen      = errors.New("project is already open")
	ErrEmptyProjectPath = errors.New("project path cannot be empty")
)

// active guards the single-active-workspace invariant.
var active atomic.Bool

// Workspace owns the open projects of one process.
type Workspace struct {
	cfg    *config.Config
	logger *logging.Logger

	mu       sync.RWMutex
	closed   bool
	projects map[string]*project.Project // key: absolute path or in-memory name

	watcher *resourceWatcher
}

// New creates the process workspace. A second call before Close
// returns ErrWorkspaceActive.
func New(cfg *config.Config, logger *logging.Logger) (*Workspace, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if !active.CompareAndSwap(false, true) {
		return nil, ErrWorkspaceActive
	}

	return &Workspace{
		cfg:      cfg,
		logger:   logger,
		projects: make(map[string]*project.Project),
	}, nil
}

// Start launches the resource watcher. Optional; a workspace without a
// watcher still serves projects, it just never observes external
// deletes and renames.
func (w *Workspace) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWorkspaceClosed
	}
	if w.watcher != nil {
		return nil
	}

	watcher, err := newResourceWatcher(w.cfg.Store.MetadataDir, w.logger)
	if err != nil {
		return fmt.Errorf("failed to create resource watcher: %w", err)
	}
	w.watcher = watcher
	watcher.start(ctx)

	for _, p := range w.projects {
		if !p.IsInMemory() {
			watcher.watchProject(p)
		}
	}
	return nil
}

// OpenProject opens the project rooted at path, creating the facade if
// it is not open yet.
func (w *Workspace) OpenProject(path string) (*project.Project, error) {
	if path == "" {
		return nil, ErrEmptyProjectPath
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWorkspaceClosed
	}

	p, err := project.New(path, w.cfg.Store, w.logger)
	if err != nil {
		return nil, err
	}
	if existing, ok := w.projects[p.Path()]; ok {
		return existing, nil
	}

	w.projects[p.Path()] = p
	if w.watcher != nil {
		w.watcher.watchProject(p)
	}

	w.logger.Info(context.Background(), "project opened",
		zap.String("project.name", p.Name()),
		zap.String("project.path", p.Path()))
	return p, nil
}

// CreateInMemoryProject creates a project that never persists. The
// name must not collide with an open in-memory project.
func (w *Workspace) CreateInMemoryProject(name string) (*project.Project, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWorkspaceClosed
	}
	if _, ok := w.projects[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectOpen, name)
	}

	p, err := project.NewInMemory(name, w.cfg.Store, w.logger)
	if err != nil {
		return nil, err
	}
	w.projects[name] = p

	w.logger.Info(context.Background(), "in-memory project created",
		zap.String("project.name", name))
	return p, nil
}

// Project returns an open project by its key (path for disk projects,
// name for in-memory ones).
func (w *Workspace) Project(key string) (*project.Project, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrWorkspaceClosed
	}
	p, ok := w.projects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, key)
	}
	return p, nil
}

// ProjectByID finds an open project by its UUID.
func (w *Workspace) ProjectByID(id string) (*project.Project, error) {
	w.mu.RLock()
	projects := make([]*project.Project, 0, len(w.projects))
	for _, p := range w.projects {
		projects = append(projects, p)
	}
	closed := w.closed
	w.mu.RUnlock()

	if closed {
		return nil, ErrWorkspaceClosed
	}

	// ID() may hit disk, so resolve outside the workspace lock.
	for _, p := range projects {
		pid, err := p.ID()
		if err != nil {
			continue
		}
		if pid == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: id %s", ErrProjectNotFound, id)
}

// Projects returns the open projects ordered by name.
func (w *Workspace) Projects() []*project.Project {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*project.Project, 0, len(w.projects))
	for _, p := range w.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// CloseProject disposes one project and forgets it.
func (w *Workspace) CloseProject(key string) error {
	w.mu.Lock()
	p, ok := w.projects[key]
	if ok {
		delete(w.projects, key)
		if w.watcher != nil && !p.IsInMemory() {
			w.watcher.unwatchProject(p)
		}
	}
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return ErrWorkspaceClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, key)
	}

	p.Dispose()
	return nil
}

// Close disposes every project, stops the watcher, and releases the
// single-active slot. Close is idempotent.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	projects := make([]*project.Project, 0, len(w.projects))
	for _, p := range w.projects {
		projects = append(projects, p)
	}
	w.projects = nil
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher != nil {
		watcher.stop()
	}
	for _, p := range projects {
		p.Dispose()
	}

	active.Store(false)
	w.logger.Info(context.Background(), "workspace closed",
		zap.Int("projects", len(projects)))
	return nil
}
