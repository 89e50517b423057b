// Package task manages a project's saved task configurations.
//
// Tasks are named units of deferred work (exports, scripted runs) whose
// configuration persists to tasks.json in the project metadata directory.
// Execution is out of scope; the manager only stores definitions.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageFile is the task store file name inside the project metadata directory.
const StorageFile = "tasks.json"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrEmptyType    = errors.New("task type cannot be empty")
	ErrEmptyLabel   = errors.New("task label cannot be empty")
)

// Task is a saved task configuration.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type storeData struct {
	Version int              `json:"version"`
	Tasks   map[string]*Task `json:"tasks"` // key: id
}

// Manager stores task configurations for one project.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	inMemory bool
	data     *storeData
}

// NewManager creates a task manager persisted under metadataDir.
func NewManager(metadataDir string, inMemory bool) (*Manager, error) {
	m := &Manager{
		filePath: filepath.Join(metadataDir, StorageFile),
		inMemory: inMemory,
		data: &storeData{
			Version: 1,
			Tasks:   make(map[string]*Task),
		},
	}

	if !inMemory {
		if err := m.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load task store: %w", err)
		}
	}

	return m, nil
}

// Create saves a new task configuration.
func (m *Manager) Create(taskType, label string, properties map[string]any) (*Task, error) {
	if taskType == "" {
		return nil, ErrEmptyType
	}
	if label == "" {
		return nil, ErrEmptyLabel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	t := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Label:      label,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.data.Tasks[t.ID] = t

	if err := m.save(); err != nil {
		delete(m.data.Tasks, t.ID)
		return nil, err
	}
	return t, nil
}

// Get returns a task by ID.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.data.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// List returns all tasks ordered by label.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0, len(m.data.Tasks))
	for _, t := range m.data.Tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Update modifies a task and persists the store.
func (m *Manager) Update(id string, mutate func(*Task)) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	mutate(t)
	t.UpdatedAt = time.Now().UTC()

	if err := m.save(); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a task and persists the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.data.Tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	delete(m.data.Tasks, id)
	if err := m.save(); err != nil {
		m.data.Tasks[id] = t
		return err
	}
	return nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}

	var sd storeData
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("task store corrupted: %w", err)
	}
	if sd.Tasks == nil {
		sd.Tasks = make(map[string]*Task)
	}

	m.data = &sd
	return nil
}

func (m *Manager) save() error {
	if m.inMemory {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task store: %w", err)
	}

	tmpPath := m.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write task store: %w", err)
	}
	if err := os.Rename(tmpPath, m.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename task store: %w", err)
	}
	return nil
}
