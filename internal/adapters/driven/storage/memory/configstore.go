package memory

import (
	"sync"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is an in-memory implementation of driven.ConfigStore for testing.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg domain.Config
}

// NewConfigStore creates a store holding cfg.
func NewConfigStore(cfg domain.Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Load returns the held configuration.
func (s *ConfigStore) Load() (domain.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, nil
}

// Save replaces the held configuration.
func (s *ConfigStore) Save(cfg domain.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return ":memory:"
}
