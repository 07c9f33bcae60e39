package driving

import "github.com/custodia-labs/kbase/internal/core/domain"

// SettingsService manages the persisted configuration.
type SettingsService interface {
	// Get returns the current settings with defaults applied.
	Get() (*domain.Settings, error)

	// Save validates and persists settings.
	Save(settings *domain.Settings) error

	// SetEmbeddingProvider switches the embedding provider. An empty model
	// selects the provider's default model and dimensions.
	SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error

	// Validate checks the stored settings.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings

	// Path returns where settings are persisted, empty if nowhere.
	Path() string
}
