package driven

import "github.com/custodia-labs/kbase/internal/core/domain"

// ConfigStore provides access to application configuration.
// Implementations handle persistence (e.g., TOML files).
type ConfigStore interface {
	// Load reads configuration from storage, applies defaults and validates.
	// A missing file yields the defaults.
	Load() (*domain.Settings, error)

	// Save persists the configuration to storage.
	Save(settings *domain.Settings) error

	// Path returns the configuration file path.
	Path() string
}
