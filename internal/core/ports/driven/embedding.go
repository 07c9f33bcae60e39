package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// Implementations classify failures as *domain.EmbeddingError so the
// orchestrator can tell transient failures (timeouts, rate limits, server
// errors) from permanent ones (malformed input, bad credentials).
//
// Implementations may include:
//   - Ollama (nomic-embed-text, all-minilm)
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	// The result has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 768, 1536).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EmbeddingCache stores encoded query embeddings by key.
type EmbeddingCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value, evicting old entries past the cache capacity.
	Set(ctx context.Context, key string, value []byte) error

	// Purge removes every entry.
	Purge(ctx context.Context) error
}
