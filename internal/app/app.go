// Package app assembles kbase's services from settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/adapters/driven/config/file"
	"github.com/custodia-labs/kbase/internal/adapters/driven/embedding/cache"
	"github.com/custodia-labs/kbase/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/kbase/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/kbase/internal/adapters/driven/embedding/ratelimit"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/kbase/internal/chunker"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/services"
	"github.com/custodia-labs/kbase/internal/extractors"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Options select where state lives.
type Options struct {
	// ConfigDir holds config.toml and, unless overridden, the database.
	// Empty means ~/.kbase.
	ConfigDir string

	// Ephemeral keeps documents and settings in memory. An existing
	// config.toml is read but never written.
	Ephemeral bool

	// Embedder replaces the configured provider. Used by tests.
	Embedder driven.EmbeddingService

	Logger *zap.Logger
}

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired services of one process.
type App struct {
	Settings   *domain.Settings
	Config     *services.SettingsService
	Extractors *extractors.Registry
	Progress   *services.ProgressBus
	Ingestion  *services.IngestionOrchestrator
	Search     *services.SearchService
	Documents  *services.DocumentService
	Logger     *zap.Logger

	store    driven.DocumentStore
	embedder driven.EmbeddingService
	health   map[string]Pinger
}

// LoadSettings opens the settings store without touching documents, so a
// broken database or embedder never blocks fixing the configuration.
func LoadSettings(opts Options) (*services.SettingsService, error) {
	dir, err := configDir(opts)
	if err != nil {
		return nil, err
	}

	if opts.Ephemeral {
		var initial *domain.Settings
		if _, err := os.Stat(filepath.Join(dir, file.ConfigFileName)); err == nil {
			store, err := file.NewConfigStore(dir)
			if err != nil {
				return nil, err
			}
			if initial, err = store.Load(); err != nil {
				return nil, err
			}
		}
		return services.NewSettingsService(memory.NewConfigStore(initial)), nil
	}

	store, err := file.NewConfigStore(dir)
	if err != nil {
		return nil, err
	}
	return services.NewSettingsService(store), nil
}

// New wires every service and starts the ingestion workers on ctx.
// Close must be called to drain work and release the store.
func New(ctx context.Context, opts Options) (*App, error) {
	log := logger.OrNop(opts.Logger)
	metrics.Register()

	config, err := LoadSettings(opts)
	if err != nil {
		return nil, err
	}
	settings, err := config.Get()
	if err != nil {
		return nil, err
	}

	a := &App{
		Settings:   settings,
		Config:     config,
		Extractors: extractors.Default(),
		Logger:     log,
		health:     make(map[string]Pinger),
	}

	var queryCache driven.EmbeddingCache
	dim := settings.Embedding.Dimensions
	if opts.Ephemeral {
		a.store = memory.NewDocumentStore(dim)
		queryCache = memory.NewEmbeddingCache(settings.Embedding.CacheSize)
	} else {
		path, err := storePath(opts, settings)
		if err != nil {
			return nil, err
		}
		db, err := sqlite.NewStore(path, dim)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", path, err)
		}
		a.store = db.DocumentStore()
		queryCache = db.EmbeddingCache(settings.Embedding.CacheSize)
		a.health["store"] = db
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder, err = NewEmbedder(settings.Embedding, log)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}
	embedder = ratelimit.New(embedder, ratelimit.Config{
		RequestsPerSecond: settings.Embedding.RequestsPerSecond,
		Burst:             settings.Embedding.Burst,
	})
	a.embedder = embedder
	a.health["embedder"] = embedder

	queryEmbedder := embedder
	if settings.Embedding.CacheQueries {
		queryEmbedder = cache.New(embedder, queryCache, log)
	}

	a.Progress = services.NewProgressBus(settings.Progress.BufferSize, log)
	a.Ingestion = services.NewIngestionOrchestrator(
		a.store,
		a.Extractors,
		chunker.FromConfig(settings.Chunker),
		embedder,
		a.Progress,
		settings.Ingest,
		log,
	)
	a.Search = services.NewSearchService(
		a.store, queryEmbedder, settings.Retrieval, settings.Ingest.EmbedTimeout.Duration, log)
	a.Documents = services.NewDocumentService(a.store, a.Ingestion, log)

	if err := a.Ingestion.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Debug("services ready",
		zap.Bool("ephemeral", opts.Ephemeral),
		zap.String("provider", settings.Embedding.Provider.String()),
		zap.String("model", embedder.ModelName()),
		zap.Int("dimensions", dim))
	return a, nil
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(cfg domain.EmbeddingConfig, log *zap.Logger) (driven.EmbeddingService, error) {
	switch cfg.Provider {
	case domain.AIProviderOllama:
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Logger:     log,
		}), nil
	case domain.AIProviderOpenAI:
		return openai.NewEmbeddingService(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Logger:     log,
		})
	default:
		return nil, fmt.Errorf("embedding provider %q: %w", cfg.Provider, domain.ErrUnsupportedType)
	}
}

// HealthChecks returns the dependencies worth probing.
func (a *App) HealthChecks() map[string]Pinger {
	out := make(map[string]Pinger, len(a.health))
	for k, v := range a.health {
		out[k] = v
	}
	return out
}

// Close stops accepting work, waits for queued files and releases the
// embedder and store.
func (a *App) Close() error {
	if a.Ingestion != nil {
		a.Ingestion.Stop()
	}
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func configDir(opts Options) (string, error) {
	if opts.ConfigDir != "" {
		return opts.ConfigDir, nil
	}
	return file.DefaultDir()
}

// storePath resolves the database file. A relative store.path is taken
// relative to the config directory.
func storePath(opts Options, settings *domain.Settings) (string, error) {
	dir, err := configDir(opts)
	if err != nil {
		return "", err
	}
	path := settings.Store.Path
	switch {
	case path == "":
		return filepath.Join(dir, "data", sqlite.DefaultFileName), nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		return filepath.Join(dir, path), nil
	}
}
