package services

import (
	"fmt"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings, err := s.configStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings.ApplyDefaults()
	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.Settings) error {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.configStore.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SetEmbeddingProvider configures the embedding provider.
//
// Changing provider or model resets the dimensions to that model's default;
// an existing store keeps its own dimension and will refuse to open with a
// different one.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedType, provider)
	}

	// Validate API key if required
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("%w: API key required for %s", domain.ErrInvalidInput, provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	emb := &settings.Embedding
	emb.Provider = provider
	emb.Model = model
	emb.Dimensions = 0
	emb.APIKey = apiKey

	// Cloud providers don't need a custom base URL
	if provider != domain.AIProviderOllama {
		emb.BaseURL = ""
	}

	return s.Save(settings)
}

// Validate checks if current settings are valid.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.Embedding.Provider.RequiresAPIKey() && settings.Embedding.APIKey == "" {
		return fmt.Errorf("%w: embedding provider %s requires an API key",
			domain.ErrInvalidInput, settings.Embedding.Provider)
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

// Path returns the config file location.
func (s *SettingsService) Path() string {
	return s.configStore.Path()
}
