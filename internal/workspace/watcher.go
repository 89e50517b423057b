package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"github.com/fyrsmithlabs/projmeta/internal/project"
)

// renamePairWindow is how long a rename event waits for its matching
// create event before being treated as a plain delete.
const renamePairWindow = 500 * time.Millisecond

// resourceWatcher observes project trees and forwards deletes and
// renames to the owning project's resource cache.
//
// fsnotify reports a rename as a Rename event on the old path followed
// by a Create event on the new path. The watcher pairs the two when
// the create arrives inside renamePairWindow; an unpaired rename is a
// delete.
type resourceWatcher struct {
	metadataDir string
	logger      *logging.Logger
	fs          *fsnotify.Watcher

	mu       sync.Mutex
	projects map[string]*project.Project // key: project root

	pendingProject *project.Project
	pendingOldRel  string
	pendingSince   time.Time
	pendingTimer   *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newResourceWatcher(metadataDir string, logger *logging.Logger) (*resourceWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &resourceWatcher{
		metadataDir: metadataDir,
		logger:      logger,
		fs:          fs,
		projects:    make(map[string]*project.Project),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

func (rw *resourceWatcher) start(ctx context.Context) {
	go rw.processEvents(ctx)
}

func (rw *resourceWatcher) stop() {
	rw.stopOnce.Do(func() {
		close(rw.stopCh)
		_ = rw.fs.Close()
	})
	<-rw.done

	rw.mu.Lock()
	rw.clearPendingLocked()
	rw.mu.Unlock()
}

// watchProject registers a project root and all its subdirectories.
func (rw *resourceWatcher) watchProject(p *project.Project) {
	root := p.Path()

	rw.mu.Lock()
	rw.projects[root] = p
	rw.mu.Unlock()

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == rw.metadataDir && path != root {
			return filepath.SkipDir
		}
		if addErr := rw.fs.Add(path); addErr != nil {
			rw.logger.Warn(context.Background(), "failed to watch directory",
				zap.String("dir", path), zap.Error(addErr))
		}
		return nil
	})
}

// unwatchProject forgets a project. Watches on its directories are
// removed lazily by fsnotify when the paths disappear; explicit
// removal here is best-effort.
func (rw *resourceWatcher) unwatchProject(p *project.Project) {
	root := p.Path()

	rw.mu.Lock()
	delete(rw.projects, root)
	rw.mu.Unlock()

	for _, watched := range rw.fs.WatchList() {
		if watched == root || strings.HasPrefix(watched, root+string(filepath.Separator)) {
			_ = rw.fs.Remove(watched)
		}
	}
}

func (rw *resourceWatcher) processEvents(ctx context.Context) {
	defer close(rw.done)

	for {
		select {
		case <-rw.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-rw.fs.Events:
			if !ok {
				return
			}
			rw.handleEvent(event)
		case err, ok := <-rw.fs.Errors:
			if !ok {
				return
			}
			rw.logger.Warn(ctx, "resource watcher error", zap.Error(err))
		}
	}
}

func (rw *resourceWatcher) handleEvent(event fsnotify.Event) {
	p, rel, ok := rw.resolve(event.Name)
	if !ok {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.flushStalePairLocked()

	switch {
	case event.Op.Has(fsnotify.Rename):
		// Hold the old path until the matching create arrives. The timer
		// demotes the rename to a delete if no create ever comes.
		rw.flushPendingLocked()
		rw.pendingProject = p
		rw.pendingOldRel = rel
		rw.pendingSince = time.Now()
		rw.pendingTimer = time.AfterFunc(renamePairWindow, rw.expirePending)

	case event.Op.Has(fsnotify.Create):
		if rw.pendingProject == p {
			oldRel := rw.pendingOldRel
			rw.clearPendingLocked()
			p.UpdateResourceCache(oldRel, rel)
			rw.logger.Debug(context.Background(), "resource renamed",
				zap.String("project.path", p.Path()),
				zap.String("old", oldRel),
				zap.String("new", rel))
			return
		}
		// New directories join the watch set.
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if filepath.Base(event.Name) != rw.metadataDir {
				_ = rw.fs.Add(event.Name)
			}
		}

	case event.Op.Has(fsnotify.Remove):
		p.RemoveResourceFromCache(rel)
		rw.logger.Debug(context.Background(), "resource removed",
			zap.String("project.path", p.Path()),
			zap.String("resource", rel))
	}
}

// resolve maps an event path to its owning project and project-relative
// path. Events inside a metadata directory are ignored.
func (rw *resourceWatcher) resolve(path string) (*project.Project, string, bool) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	for root, p := range rw.projects {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil, "", false
		}
		rel = filepath.ToSlash(rel)
		if rel == rw.metadataDir || strings.HasPrefix(rel, rw.metadataDir+"/") {
			return nil, "", false
		}
		return p, rel, true
	}
	return nil, "", false
}

// flushStalePairLocked expires a pending rename whose create never came.
func (rw *resourceWatcher) flushStalePairLocked() {
	if rw.pendingProject != nil && time.Since(rw.pendingSince) >= renamePairWindow {
		rw.flushPendingLocked()
	}
}

// expirePending runs off the pair-window timer so an unpaired rename is
// evicted even when no further events arrive.
func (rw *resourceWatcher) expirePending() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.flushStalePairLocked()
}

// flushPendingLocked treats the held rename as a delete.
func (rw *resourceWatcher) flushPendingLocked() {
	if rw.pendingProject == nil {
		return
	}
	rw.pendingProject.RemoveResourceFromCache(rw.pendingOldRel)
	rw.clearPendingLocked()
}

func (rw *resourceWatcher) clearPendingLocked() {
	if rw.pendingTimer != nil {
		rw.pendingTimer.Stop()
		rw.pendingTimer = nil
	}
	rw.pendingProject = nil
	rw.pendingOldRel = ""
	rw.pendingSince = time.Time{}
}
