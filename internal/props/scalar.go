package props

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/logging"
)

// Store is the project-wide scalar property store.
//
// Properties load lazily from the settings file on first access. Every
// mutation rewrites the full file synchronously: writes are rare and small,
// so correctness wins over throughput. A removed property never reappears
// after reload. Storage failures are logged, never returned.
type Store struct {
	path     string
	inMemory bool
	logger   *logging.Logger

	mu    sync.Mutex
	props map[string]any // nil until loaded
}

// NewStore creates a scalar property store backed by the file at path.
// In-memory stores accept writes but never touch disk.
func NewStore(path string, inMemory bool, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		path:     path,
		inMemory: inMemory,
		logger:   logger,
	}
}

// Get returns the property value and whether it is present.
func (s *Store) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	v, ok := s.props[name]
	return v, ok
}

// Set stores a property value. A nil value removes the property. The whole
// map is persisted before Set returns; persistence failures are logged and
// the in-memory state is kept.
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	if value == nil {
		delete(s.props, name)
	} else {
		s.props[name] = value
	}
	s.save()
}

// All returns a copy of every property.
func (s *Store) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	out := make(map[string]any, len(s.props))
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

// ensureLoaded populates props from disk on first access.
// Caller must hold s.mu.
func (s *Store) ensureLoaded() {
	if s.props != nil {
		return
	}

	if !s.inMemory {
		if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
			data, err := os.ReadFile(s.path)
			if err == nil {
				var loaded map[string]any
				if jsonErr := json.Unmarshal(data, &loaded); jsonErr == nil {
					s.props = loaded
				} else {
					s.logger.Error(context.Background(), "error reading project settings",
						zap.String("file", s.path), zap.Error(jsonErr))
				}
			} else {
				s.logger.Error(context.Background(), "error reading project settings",
					zap.String("file", s.path), zap.Error(err))
			}
		}
	}
	if s.props == nil {
		s.props = make(map[string]any)
	}
}

// save writes the full property map to the settings file.
// Caller must hold s.mu.
func (s *Store) save() {
	if s.inMemory {
		return
	}

	data, err := json.MarshalIndent(s.props, "", "  ")
	if err != nil {
		s.logger.Error(context.Background(), "error serializing project settings",
			zap.String("file", s.path), zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		s.logger.Error(context.Background(), "error creating settings directory",
			zap.String("file", s.path), zap.Error(err))
		return
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		s.logger.Error(context.Background(), "error writing project settings",
			zap.String("file", s.path), zap.Error(err))
	}
}
