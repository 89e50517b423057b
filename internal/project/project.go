package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/config"
	"github.com/fyrsmithlabs/projmeta/internal/datasource"
	"github.com/fyrsmithlabs/projmeta/internal/flush"
	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"github.com/fyrsmithlabs/projmeta/internal/props"
	"github.com/fyrsmithlabs/projmeta/internal/secure"
	"github.com/fyrsmithlabs/projmeta/internal/task"
)

// Metadata file names inside the project metadata directory.
const (
	SettingsFileName = "project-settings.json"
	MetadataFileName = "project-metadata.json"
)

// PropProjectID is the settings property holding the project UUID.
const PropProjectID = "id"

// Common errors.
var (
	ErrEmptyProjectPath = errors.New("project path cannot be empty")
	ErrEmptyProjectName = errors.New("project name cannot be empty")
	ErrInvalidProjectID = errors.New("invalid project ID")
	ErrProjectDisposed  = errors.New("project is disposed")
)

// Project is the metadata facade for one project directory.
//
// The settings store, metadata cache, flush scheduler, and the
// collaborator handles are all created lazily on first use. Project is
// safe for concurrent use.
type Project struct {
	name     string
	path     string
	inMemory bool
	cfg      config.StoreConfig
	logger   *logging.Logger

	mu       sync.RWMutex
	format   Format
	id       string
	disposed bool

	settings    *props.Store
	cache       *props.Cache
	scheduler   *flush.Scheduler
	datasources *datasource.Registry
	tasks       *task.Manager
	secrets     *secure.Storage
}

// New creates a project facade rooted at path. Nothing is read from
// disk until the first property access.
func New(path string, cfg config.StoreConfig, logger *logging.Logger) (*Project, error) {
	if path == "" {
		return nil, ErrEmptyProjectPath
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	return &Project{
		name:   filepath.Base(abs),
		path:   abs,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// NewInMemory creates a project that never persists anything.
func NewInMemory(name string, cfg config.StoreConfig, logger *logging.Logger) (*Project, error) {
	if name == "" {
		return nil, ErrEmptyProjectName
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Project{
		name:     name,
		inMemory: true,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// Path returns the absolute project path. Empty for in-memory projects.
func (p *Project) Path() string { return p.path }

// IsInMemory reports whether the project persists nothing.
func (p *Project) IsInMemory() bool { return p.inMemory }

// Format returns the detected on-disk layout. The result is re-detected
// until it resolves to something other than FormatUnknown, then sticks.
func (p *Project) Format() Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.formatLocked()
}

// IsModern reports whether the project uses the metadata directory layout.
func (p *Project) IsModern() bool {
	return p.Format() == FormatModern
}

func (p *Project) formatLocked() Format {
	if p.format == FormatUnknown {
		p.format = p.detectFormatLocked()
	}
	return p.format
}

func (p *Project) detectFormatLocked() Format {
	if p.inMemory {
		return FormatModern
	}
	if fi, err := os.Stat(filepath.Join(p.path, p.cfg.MetadataDir)); err == nil && fi.IsDir() {
		return FormatModern
	}
	for _, name := range []string{SettingsFileName, MetadataFileName} {
		if _, err := os.Stat(filepath.Join(p.path, name)); err == nil {
			return FormatLegacy
		}
	}
	return FormatUnknown
}

// MetadataDir returns the directory holding the project's metadata
// files. Legacy projects keep their files in the project root.
func (p *Project) MetadataDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadataDirLocked()
}

func (p *Project) metadataDirLocked() string {
	if p.inMemory {
		return ""
	}
	if p.formatLocked() == FormatLegacy {
		return p.path
	}
	return filepath.Join(p.path, p.cfg.MetadataDir)
}

// ID returns the project's stable UUID, generating and persisting one
// on first call. A stored value that does not parse as a UUID is
// handled per the configured policy: fail, or regenerate in place.
func (p *Project) ID() (string, error) {
	p.mu.RLock()
	id := p.id
	p.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}
	if p.disposed {
		return "", ErrProjectDisposed
	}

	store := p.settingsLocked()
	if v, ok := store.Get(PropProjectID); ok {
		s, isString := v.(string)
		if isString {
			if _, err := uuid.Parse(s); err == nil {
				p.id = s
				return s, nil
			}
		}
		if p.cfg.IDPolicy != config.IDPolicyRegenerate {
			return "", fmt.Errorf("%w: %v", ErrInvalidProjectID, v)
		}
		p.logger.Warn(context.Background(), "stored project ID is corrupt, regenerating",
			zap.String("project.path", p.path),
			zap.Any("stored", v))
	}

	id = uuid.New().String()
	store.Set(PropProjectID, id)
	p.id = id
	return id, nil
}

// ProjectProperty returns a project-level scalar property.
func (p *Project) ProjectProperty(name string) (any, bool) {
	p.mu.Lock()
	store := p.settingsLocked()
	p.mu.Unlock()
	return store.Get(name)
}

// ProjectProperties returns a copy of all project-level properties.
func (p *Project) ProjectProperties() map[string]any {
	p.mu.Lock()
	store := p.settingsLocked()
	p.mu.Unlock()
	return store.All()
}

// SetProjectProperty sets a project-level scalar property and persists
// the settings store synchronously. A nil value removes the property.
func (p *Project) SetProjectProperty(name string, value any) {
	p.mu.Lock()
	store := p.settingsLocked()
	p.mu.Unlock()
	store.Set(name, value)
}

// ResourceProperty returns one cached property of a resource.
func (p *Project) ResourceProperty(resourcePath, name string) (any, bool) {
	return p.metadataCache().GetProperty(resourcePath, name)
}

// ResourceProperties returns a copy of a resource's property map.
func (p *Project) ResourceProperties(resourcePath string) (map[string]any, bool) {
	return p.metadataCache().Properties(resourcePath)
}

// AllResourceProperties returns a deep copy of the whole cache.
func (p *Project) AllResourceProperties() map[string]map[string]any {
	return p.metadataCache().AllProperties()
}

// SetResourceProperty sets one property of a resource. A nil value
// removes the property. Content changes schedule a debounced flush.
func (p *Project) SetResourceProperty(resourcePath, name string, value any) {
	p.metadataCache().SetProperty(resourcePath, name, value)
}

// SetResourceProperties merges a property map into a resource's entry.
func (p *Project) SetResourceProperties(resourcePath string, properties map[string]any) {
	p.metadataCache().SetProperties(resourcePath, properties)
}

// RemoveResourceFromCache drops a deleted resource's cache entry.
func (p *Project) RemoveResourceFromCache(resourcePath string) {
	p.metadataCache().RemovePath(resourcePath)
}

// UpdateResourceCache moves a renamed resource's cache entry.
func (p *Project) UpdateResourceCache(oldPath, newPath string) {
	p.metadataCache().RenamePath(oldPath, newPath)
}

// DataSources returns the project's data source registry, creating it
// on first call.
func (p *Project) DataSources() (*datasource.Registry, error) {
	p.mu.RLock()
	reg := p.datasources
	disposed := p.disposed
	p.mu.RUnlock()
	if reg != nil {
		return reg, nil
	}
	if disposed {
		return nil, ErrProjectDisposed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, ErrProjectDisposed
	}
	if p.datasources == nil {
		reg, err := datasource.NewRegistry(p.metadataDirLocked(), p.inMemory)
		if err != nil {
			return nil, err
		}
		p.datasources = reg
	}
	return p.datasources, nil
}

// Tasks returns the project's task manager, creating it on first call.
func (p *Project) Tasks() (*task.Manager, error) {
	p.mu.RLock()
	m := p.tasks
	disposed := p.disposed
	p.mu.RUnlock()
	if m != nil {
		return m, nil
	}
	if disposed {
		return nil, ErrProjectDisposed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, ErrProjectDisposed
	}
	if p.tasks == nil {
		m, err := task.NewManager(p.metadataDirLocked(), p.inMemory)
		if err != nil {
			return nil, err
		}
		p.tasks = m
	}
	return p.tasks, nil
}

// SecureStorage returns the project's encrypted credential store,
// creating it on first call.
func (p *Project) SecureStorage() (*secure.Storage, error) {
	p.mu.RLock()
	s := p.secrets
	disposed := p.disposed
	p.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if disposed {
		return nil, ErrProjectDisposed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, ErrProjectDisposed
	}
	if p.secrets == nil {
		p.secrets = secure.NewStorage(p.metadataDirLocked(), p.inMemory)
	}
	return p.secrets, nil
}

// FlushMetadata forces a synchronous write of the resource property
// cache, bypassing the debounce window.
func (p *Project) FlushMetadata(ctx context.Context) error {
	return p.metadataCache().Save(ctx)
}

// Dispose stops the flush scheduler and releases the collaborators. A
// pending flush completes before Dispose returns; no new flushes are
// scheduled afterwards. Dispose is idempotent.
func (p *Project) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	scheduler := p.scheduler
	secrets := p.secrets
	datasources := p.datasources
	p.mu.Unlock()

	if scheduler != nil {
		scheduler.Close()
	}
	if datasources != nil {
		datasources.Close()
	}
	if secrets != nil {
		if err := secrets.Close(); err != nil {
			p.logger.Warn(context.Background(), "failed to close secure storage",
				zap.String("project.path", p.path), zap.Error(err))
		}
	}

	p.logger.Debug(context.Background(), "project disposed",
		zap.String("project.name", p.name),
		zap.String("project.path", p.path))
}

// settingsLocked lazily creates the scalar settings store. Callers must
// hold p.mu.
func (p *Project) settingsLocked() *props.Store {
	if p.settings == nil {
		path := ""
		if !p.inMemory {
			path = filepath.Join(p.metadataDirLocked(), SettingsFileName)
		}
		p.settings = props.NewStore(path, p.inMemory, p.logger)
	}
	return p.settings
}

// metadataCache lazily creates the resource property cache together
// with its flush scheduler.
func (p *Project) metadataCache() *props.Cache {
	p.mu.RLock()
	c := p.cache
	p.mu.RUnlock()
	if c != nil {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache == nil {
		path := ""
		if !p.inMemory {
			path = filepath.Join(p.metadataDirLocked(), MetadataFileName)
		}

		cache := props.NewCache(path, props.CacheOptions{
			InMemory:          p.inMemory,
			BackupGenerations: p.cfg.BackupGenerations,
			OnDirty:           p.requestFlush,
		}, p.logger)

		scheduler := flush.NewScheduler(p.cfg.FlushDelay.Duration(), cache.Save, p.logger)
		if p.disposed {
			// No scheduling after disposal begins.
			scheduler.Close()
		}

		p.cache = cache
		p.scheduler = scheduler
	}
	return p.cache
}

// requestFlush is the cache's dirty hook. It runs outside the cache
// lock, so taking p.mu here cannot deadlock.
func (p *Project) requestFlush() {
	p.mu.RLock()
	scheduler := p.scheduler
	p.mu.RUnlock()
	if scheduler != nil {
		scheduler.Request()
	}
}
