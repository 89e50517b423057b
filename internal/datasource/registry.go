// Package datasource manages a project's data source definitions.
//
// Definitions persist to data-sources.json inside the project metadata
// directory. The registry treats them as opaque connection descriptors: a
// driver identifier, a URL and free-form properties. It never opens
// connections itself.
package datasource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageFile is the registry file name inside the project metadata directory.
const StorageFile = "data-sources.json"

// Errors for registry operations.
var (
	ErrNotFound       = errors.New("data source not found")
	ErrInvalidName    = errors.New("invalid name: must be alphanumeric with hyphens/underscores")
	ErrRegistryClosed = errors.New("registry is closed")
)

// namePattern validates data source names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ._-]*$`)

// DataSource is a registered connection definition.
type DataSource struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	URL        string            `json:"url,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// registryData is the persisted registry structure.
type registryData struct {
	Version     int                    `json:"version"`
	DataSources map[string]*DataSource `json:"data_sources"` // key: id
}

// Registry stores a project's data source definitions.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	inMemory bool
	data     *registryData
	closed   bool
}

// NewRegistry creates a registry persisted under metadataDir.
// In-memory registries never touch disk.
func NewRegistry(metadataDir string, inMemory bool) (*Registry, error) {
	r := &Registry{
		filePath: filepath.Join(metadataDir, StorageFile),
		inMemory: inMemory,
		data: &registryData{
			Version:     1,
			DataSources: make(map[string]*DataSource),
		},
	}

	if !inMemory {
		if err := r.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load data source registry: %w", err)
		}
	}

	return r, nil
}

// ValidateName checks if a data source name is acceptable.
func ValidateName(name string) error {
	if name == "" || len(name) > 255 || !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// Create registers a new data source and persists the registry.
func (r *Registry) Create(name, driver, url string, properties map[string]string) (*DataSource, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if driver == "" {
		return nil, errors.New("driver cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	now := time.Now().UTC()
	ds := &DataSource{
		ID:         uuid.New().String(),
		Name:       name,
		Driver:     driver,
		URL:        url,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.data.DataSources[ds.ID] = ds

	if err := r.save(); err != nil {
		delete(r.data.DataSources, ds.ID)
		return nil, err
	}

	return ds, nil
}

// Get returns a data source by ID.
func (r *Registry) Get(id string) (*DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.data.DataSources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ds, nil
}

// GetByName returns a data source by name.
func (r *Registry) GetByName(name string) (*DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ds := range r.data.DataSources {
		if ds.Name == name {
			return ds, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns all registered data sources.
func (r *Registry) List() []*DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DataSource, 0, len(r.data.DataSources))
	for _, ds := range r.data.DataSources {
		out = append(out, ds)
	}
	return out
}

// Update modifies an existing data source and persists the registry.
func (r *Registry) Update(id string, mutate func(*DataSource)) (*DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	ds, ok := r.data.DataSources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	mutate(ds)
	ds.UpdatedAt = time.Now().UTC()

	if err := r.save(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Delete removes a data source and persists the registry.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	ds, ok := r.data.DataSources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(r.data.DataSources, id)
	if err := r.save(); err != nil {
		r.data.DataSources[id] = ds
		return err
	}
	return nil
}

// Close marks the registry closed. Further mutations fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// load reads the registry from disk.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	var rd registryData
	if err := json.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("registry file corrupted: %w", err)
	}
	if rd.DataSources == nil {
		rd.DataSources = make(map[string]*DataSource)
	}

	r.data = &rd
	return nil
}

// save writes the registry to disk atomically.
func (r *Registry) save() error {
	if r.inMemory {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := r.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}

	return nil
}
