package domain

import (
	"fmt"
	"time"
)

const unknownDescription = "Unknown"

// AIProvider identifies an embedding service provider.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	return p == AIProviderOllama || p == AIProviderOpenAI
}

// RequiresAPIKey returns true if the provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	default:
		return unknownDescription
	}
}

// Duration is a time.Duration that reads and writes as a string such as "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidInput, string(text))
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ChunkerConfig holds the passage splitting knobs.
type ChunkerConfig struct {
	// ChunkSize is the maximum passage length in characters.
	ChunkSize int `toml:"chunk_size"`

	// Overlap is the number of trailing characters repeated at the start of the next passage.
	Overlap int `toml:"overlap"`
}

// IngestConfig holds the orchestrator's resource and retry knobs.
type IngestConfig struct {
	// Workers is the size of the ingestion worker pool.
	Workers int `toml:"workers"`

	// QueueSize bounds the number of files waiting for a worker.
	QueueSize int `toml:"queue_size"`

	// BatchSize is the number of passages per embedder call.
	BatchSize int `toml:"batch_size"`

	// MaxRetries is the number of retries after the first failed embedding attempt.
	MaxRetries int `toml:"max_retries"`

	// RetryDelay is the initial backoff delay.
	RetryDelay Duration `toml:"retry_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay Duration `toml:"max_delay"`

	// EmbedTimeout bounds a single embedder call.
	EmbedTimeout Duration `toml:"embed_timeout"`

	// ExtractTimeout bounds a single extractor call.
	ExtractTimeout Duration `toml:"extract_timeout"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	// DefaultLimit applies when the caller gives no limit.
	DefaultLimit int `toml:"default_limit"`

	// MaxLimit caps caller-supplied limits.
	MaxLimit int `toml:"max_limit"`

	// MinScore is the default relevance floor. Nil means no floor.
	MinScore *float64 `toml:"min_score,omitempty"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding service.
	Provider AIProvider `toml:"provider"`

	// Model is the embedding model name.
	Model string `toml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `toml:"base_url,omitempty"`

	// APIKey is required by cloud providers.
	APIKey string `toml:"api_key,omitempty"`

	// Dimensions is the expected vector length.
	Dimensions int `toml:"dimensions"`

	// RequestsPerSecond limits embedder calls. Zero disables limiting.
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Burst is the rate limiter burst size.
	Burst int `toml:"burst"`

	// CacheQueries enables the query embedding cache.
	CacheQueries bool `toml:"cache_queries"`

	// CacheSize bounds the number of cached query embeddings.
	CacheSize int `toml:"cache_size"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ProgressConfig configures the progress bus.
type ProgressConfig struct {
	// BufferSize is the per-subscriber event buffer.
	BufferSize int `toml:"buffer_size"`
}

// Settings is the complete application configuration.
type Settings struct {
	Chunker   ChunkerConfig   `toml:"chunker"`
	Ingest    IngestConfig    `toml:"ingest"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Progress  ProgressConfig  `toml:"progress"`
}

// Default values.
const (
	DefaultChunkSize      = 1000
	DefaultOverlap        = 100
	DefaultWorkers        = 2
	DefaultQueueSize      = 64
	DefaultBatchSize      = 16
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultEmbedTimeout   = 30 * time.Second
	DefaultExtractTimeout = 2 * time.Minute
	DefaultSearchLimit    = 10
	DefaultMaxSearchLimit = 100
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaModel    = "nomic-embed-text"
	DefaultOllamaDims     = 768
	DefaultOpenAIModel    = "text-embedding-3-small"
	DefaultOpenAIDims     = 1536
	DefaultCacheSize      = 1000
	DefaultServerAddr     = "127.0.0.1:8420"
	DefaultBufferSize     = 64
)

// DefaultSettings returns settings with every field at its default.
func DefaultSettings() Settings {
	s := Settings{
		Chunker: ChunkerConfig{Overlap: DefaultOverlap},
		Ingest:  IngestConfig{MaxRetries: DefaultMaxRetries},
	}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero-valued fields with defaults.
// Chunker overlap and ingest retries are left alone since zero is a
// valid choice for both; start from DefaultSettings to get their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Chunker.ChunkSize == 0 {
		s.Chunker.ChunkSize = DefaultChunkSize
	}

	in := &s.Ingest
	if in.Workers == 0 {
		in.Workers = DefaultWorkers
	}
	if in.QueueSize == 0 {
		in.QueueSize = DefaultQueueSize
	}
	if in.BatchSize == 0 {
		in.BatchSize = DefaultBatchSize
	}
	if in.RetryDelay.Duration == 0 {
		in.RetryDelay.Duration = DefaultRetryDelay
	}
	if in.MaxDelay.Duration == 0 {
		in.MaxDelay.Duration = DefaultMaxDelay
	}
	if in.EmbedTimeout.Duration == 0 {
		in.EmbedTimeout.Duration = DefaultEmbedTimeout
	}
	if in.ExtractTimeout.Duration == 0 {
		in.ExtractTimeout.Duration = DefaultExtractTimeout
	}

	if s.Retrieval.DefaultLimit == 0 {
		s.Retrieval.DefaultLimit = DefaultSearchLimit
	}
	if s.Retrieval.MaxLimit == 0 {
		s.Retrieval.MaxLimit = DefaultMaxSearchLimit
	}

	emb := &s.Embedding
	if emb.Provider == "" {
		emb.Provider = AIProviderOllama
	}
	if emb.Model == "" {
		switch emb.Provider {
		case AIProviderOpenAI:
			emb.Model = DefaultOpenAIModel
		default:
			emb.Model = DefaultOllamaModel
		}
	}
	if emb.BaseURL == "" && emb.Provider == AIProviderOllama {
		emb.BaseURL = DefaultOllamaURL
	}
	if emb.Dimensions == 0 {
		switch emb.Provider {
		case AIProviderOpenAI:
			emb.Dimensions = DefaultOpenAIDims
		default:
			emb.Dimensions = DefaultOllamaDims
		}
	}
	if emb.CacheSize == 0 {
		emb.CacheSize = DefaultCacheSize
	}

	if s.Server.Addr == "" {
		s.Server.Addr = DefaultServerAddr
	}
	if s.Server.ShutdownTimeout.Duration == 0 {
		s.Server.ShutdownTimeout.Duration = 10 * time.Second
	}
	if s.Progress.BufferSize == 0 {
		s.Progress.BufferSize = DefaultBufferSize
	}
}

// Validate checks that the settings are internally consistent.
func (s *Settings) Validate() error {
	switch {
	case s.Chunker.ChunkSize <= 0:
		return fmt.Errorf("%w: chunker.chunk_size must be positive", ErrInvalidInput)
	case s.Chunker.Overlap < 0:
		return fmt.Errorf("%w: chunker.overlap must not be negative", ErrInvalidInput)
	case s.Chunker.Overlap >= s.Chunker.ChunkSize:
		return fmt.Errorf("%w: chunker.overlap must be smaller than chunk_size", ErrInvalidInput)
	case s.Ingest.Workers <= 0:
		return fmt.Errorf("%w: ingest.workers must be positive", ErrInvalidInput)
	case s.Ingest.QueueSize <= 0:
		return fmt.Errorf("%w: ingest.queue_size must be positive", ErrInvalidInput)
	case s.Ingest.BatchSize <= 0:
		return fmt.Errorf("%w: ingest.batch_size must be positive", ErrInvalidInput)
	case s.Ingest.MaxRetries < 0:
		return fmt.Errorf("%w: ingest.max_retries must not be negative", ErrInvalidInput)
	case s.Retrieval.DefaultLimit <= 0 || s.Retrieval.MaxLimit < s.Retrieval.DefaultLimit:
		return fmt.Errorf("%w: retrieval limits must satisfy 0 < default_limit <= max_limit", ErrInvalidInput)
	case !s.Embedding.Provider.IsValid():
		return fmt.Errorf("%w: embedding.provider %q", ErrUnsupportedType, s.Embedding.Provider)
	case s.Embedding.Dimensions <= 0:
		return fmt.Errorf("%w: embedding.dimensions must be positive", ErrInvalidInput)
	case s.Embedding.RequestsPerSecond < 0:
		return fmt.Errorf("%w: embedding.requests_per_second must not be negative", ErrInvalidInput)
	case s.Progress.BufferSize <= 0:
		return fmt.Errorf("%w: progress.buffer_size must be positive", ErrInvalidInput)
	}
	return nil
}
