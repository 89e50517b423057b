package props

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/backup"
	"github.com/fyrsmithlabs/projmeta/internal/logging"
)

// CacheOptions configures a resource property cache.
type CacheOptions struct {
	// InMemory disables all disk access.
	InMemory bool

	// BackupGenerations is passed to the backup writer before each save.
	BackupGenerations int

	// OnDirty is invoked, outside the cache lock, whenever a mutation
	// actually changed content. Typically wired to flush.Scheduler.Request.
	OnDirty func()
}

// metadataDocument is the persisted shape of the cache.
type metadataDocument struct {
	Resources map[string]map[string]any `json:"resources"`
}

// Cache maps resource paths to property maps.
//
// The cache loads once per instance and is never reloaded; after load the
// in-memory map is the single source of truth and disk is only a checkpoint,
// written by the flush scheduler. An entry exists only while its property map
// is non-empty. Mutations that do not change observable content do not signal
// dirty.
type Cache struct {
	path   string
	opts   CacheOptions
	logger *logging.Logger

	mu        sync.Mutex
	resources map[string]map[string]any // nil until loaded
}

// NewCache creates a resource property cache backed by the metadata file
// at path.
func NewCache(path string, opts CacheOptions, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		path:   path,
		opts:   opts,
		logger: logger,
	}
}

// GetProperty returns one property of a resource.
func (c *Cache) GetProperty(path, name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded()
	resProps, ok := c.resources[path]
	if !ok {
		return nil, false
	}
	v, ok := resProps[name]
	return v, ok
}

// Properties returns a copy of a resource's property map, or false if the
// resource has no cached properties.
func (c *Cache) Properties(path string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded()
	resProps, ok := c.resources[path]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(resProps))
	for k, v := range resProps {
		out[k] = v
	}
	return out, true
}

// AllProperties returns a defensive copy of the whole cache.
func (c *Cache) AllProperties() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded()
	out := make(map[string]map[string]any, len(c.resources))
	for path, resProps := range c.resources {
		cp := make(map[string]any, len(resProps))
		for k, v := range resProps {
			cp[k] = v
		}
		out[path] = cp
	}
	return out
}

// SetProperty sets one property of a resource. A nil value removes the
// property; removing the last property removes the resource entry. A dirty
// signal fires only when content actually changed.
func (c *Cache) SetProperty(path, name string, value any) {
	c.mu.Lock()
	changed := c.setPropertyLocked(path, name, value)
	c.mu.Unlock()

	if changed {
		c.signalDirty()
	}
}

func (c *Cache) setPropertyLocked(path, name string, value any) bool {
	c.ensureLoaded()

	resProps, ok := c.resources[path]
	if !ok {
		if value == nil {
			// No props and no new value.
			return false
		}
		resProps = make(map[string]any)
		c.resources[path] = resProps
	}

	if value == nil {
		if _, had := resProps[name]; !had {
			return false
		}
		delete(resProps, name)
		if len(resProps) == 0 {
			delete(c.resources, path)
		}
		return true
	}

	old, had := resProps[name]
	if had && scalarEqual(old, value) {
		return false
	}
	resProps[name] = value
	return true
}

// SetProperties bulk-merges a property map into a resource: nil values
// remove, others upsert. At most one dirty signal fires for the whole merge.
func (c *Cache) SetProperties(path string, props map[string]any) {
	c.mu.Lock()
	changed := c.setPropertiesLocked(path, props)
	c.mu.Unlock()

	if changed {
		c.signalDirty()
	}
}

func (c *Cache) setPropertiesLocked(path string, props map[string]any) bool {
	c.ensureLoaded()

	resProps, ok := c.resources[path]
	if !ok {
		if len(props) == 0 {
			return false
		}
		resProps = make(map[string]any)
		c.resources[path] = resProps
	}

	hasChanges := false
	for name, value := range props {
		if value == nil {
			if _, had := resProps[name]; had {
				delete(resProps, name)
				hasChanges = true
			}
			continue
		}
		old, had := resProps[name]
		if !had || !scalarEqual(old, value) {
			resProps[name] = value
			hasChanges = true
		}
	}

	if len(resProps) == 0 {
		delete(c.resources, path)
	}
	return hasChanges
}

// RemovePath drops all cached properties of a resource. When path names a
// folder, entries below it are dropped too. Used when the underlying
// resource is deleted. No-op if the cache was never loaded or nothing under
// path has properties.
func (c *Cache) RemovePath(path string) {
	c.mu.Lock()
	changed := false
	if c.resources != nil {
		prefix := path + "/"
		for p := range c.resources {
			if p == path || strings.HasPrefix(p, prefix) {
				delete(c.resources, p)
				changed = true
			}
		}
	}
	c.mu.Unlock()

	if changed {
		c.signalDirty()
	}
}

// RenamePath moves cached properties from oldPath to newPath. When oldPath
// names a folder, entries below it move along, keeping their relative paths.
// Used when the underlying resource is moved. No-op if nothing under oldPath
// has properties.
func (c *Cache) RenamePath(oldPath, newPath string) {
	if oldPath == newPath {
		return
	}

	c.mu.Lock()
	changed := false
	if c.resources != nil {
		prefix := oldPath + "/"
		moves := make(map[string]string)
		for p := range c.resources {
			switch {
			case p == oldPath:
				moves[p] = newPath
			case strings.HasPrefix(p, prefix):
				moves[p] = newPath + "/" + strings.TrimPrefix(p, prefix)
			}
		}
		for from, to := range moves {
			c.resources[to] = c.resources[from]
			delete(c.resources, from)
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.signalDirty()
	}
}

// Save serializes the cache to the metadata file. Invoked by the flush
// scheduler, never inline on mutation. The previous file is backed up first;
// a failed backup aborts the save. If the cache is empty and no file exists
// on disk, nothing is written.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.InMemory {
		return nil
	}

	_, statErr := os.Stat(c.path)
	fileExists := statErr == nil
	if len(c.resources) == 0 && !fileExists {
		// Nothing to save and no file to supersede.
		return nil
	}

	if err := backup.MakeFileBackup(c.path, c.opts.BackupGenerations); err != nil {
		return err
	}

	doc := metadataDocument{Resources: make(map[string]map[string]any, len(c.resources))}
	for path, resProps := range c.resources {
		enc := make(map[string]any, len(resProps))
		for k, v := range resProps {
			enc[k] = encodeScalar(v)
		}
		doc.Resources[path] = enc
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	// Write atomically so a crash mid-write cannot truncate the only copy.
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	c.logger.Debug(ctx, "flushed resource metadata",
		zap.String("file", c.path), zap.Int("resources", len(c.resources)))
	return nil
}

// Loaded reports whether the cache has been read from disk.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resources != nil
}

// ensureLoaded reads the metadata file on first access.
// Caller must hold c.mu.
func (c *Cache) ensureLoaded() {
	if c.resources != nil {
		return
	}

	if !c.opts.InMemory {
		if info, err := os.Stat(c.path); err == nil && info.Size() > 0 {
			f, err := os.Open(c.path)
			if err == nil {
				loaded, decErr := decodeResources(f)
				f.Close()
				if decErr == nil {
					c.resources = loaded
				} else {
					c.logger.Error(context.Background(), "error reading project metadata",
						zap.String("file", c.path), zap.Error(decErr))
				}
			} else {
				c.logger.Error(context.Background(), "error reading project metadata",
					zap.String("file", c.path), zap.Error(err))
			}
		}
	}
	if c.resources == nil {
		c.resources = make(map[string]map[string]any)
	}
}

func (c *Cache) signalDirty() {
	if c.opts.OnDirty != nil {
		c.opts.OnDirty()
	}
}
