package memory

import (
	"sync"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is an in-memory implementation of driven.ConfigStore used by
// --ephemeral runs and tests.
type ConfigStore struct {
	mu       sync.RWMutex
	settings domain.Settings
}

// NewConfigStore creates a config store holding the given settings, or the
// defaults when nil.
func NewConfigStore(settings *domain.Settings) *ConfigStore {
	s := domain.DefaultSettings()
	if settings != nil {
		s = *settings
		s.ApplyDefaults()
	}
	return &ConfigStore{settings: s}
}

// Load returns a copy of the held settings after validation.
func (s *ConfigStore) Load() (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.settings
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save replaces the held settings.
func (s *ConfigStore) Save(settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = *settings
	return nil
}

// Path returns an empty string; nothing is persisted.
func (s *ConfigStore) Path() string {
	return ""
}
