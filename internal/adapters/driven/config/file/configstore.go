package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigFileName is the settings file inside the config directory.
const ConfigFileName = "config.toml"

// ConfigStore is a file-based implementation of driven.ConfigStore using TOML.
// Settings are stored in config.toml within the kbase config directory.
type ConfigStore struct {
	mu       sync.Mutex
	filePath string
}

// DefaultDir returns ~/.kbase.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kbase"), nil
}

// NewConfigStore creates a new TOML-based config store.
// If configDir is empty, defaults to ~/.kbase/config.toml.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	return &ConfigStore{filePath: filepath.Join(configDir, ConfigFileName)}, nil
}

// Load reads the settings file. A missing or empty file yields the
// defaults. Unknown keys are rejected so typos do not pass silently.
func (s *ConfigStore) Load() (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Keys missing from the file keep their defaults. Embedding defaults
	// depend on the chosen provider so they are filled after decoding.
	settings := domain.DefaultSettings()
	settings.Embedding = domain.EmbeddingConfig{}

	data, err := os.ReadFile(s.filePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) > 0 {
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(&settings); err != nil {
			return nil, decodeError(s.filePath, err)
		}
	}

	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.filePath, err)
	}
	return &settings, nil
}

// Save validates and writes the settings. The file is replaced atomically
// with owner-only permissions since it may hold an API key.
func (s *ConfigStore) Save(settings *domain.Settings) error {
	if settings == nil {
		return fmt.Errorf("%w: nil settings", domain.ErrInvalidInput)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".config-*.toml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.filePath)
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// decodeError turns go-toml errors into invalid input errors that carry
// the offending position or key.
func decodeError(path string, err error) error {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return fmt.Errorf("%w: %s:%d:%d: %s", domain.ErrInvalidInput, path, row, col, derr.Error())
	}

	var serr *toml.StrictMissingError
	if errors.As(err, &serr) {
		keys := make([]string, 0, len(serr.Errors))
		for _, e := range serr.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		return fmt.Errorf("%w: %s: unknown keys %v", domain.ErrInvalidInput, path, keys)
	}

	return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, path, err)
}
