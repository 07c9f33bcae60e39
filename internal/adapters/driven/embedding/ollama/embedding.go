// Package ollama provides an embedding service adapter using Ollama.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const providerName = "ollama"

// Default configuration values.
const (
	DefaultBaseURL    = domain.DefaultOllamaURL
	DefaultModel      = domain.DefaultOllamaModel
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = domain.DefaultOllamaDims
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Config holds configuration for the Ollama embedding service.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout bounds a single HTTP request (default: 30s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int

	Logger *zap.Logger
}

// EmbeddingService generates embeddings using Ollama.
type EmbeddingService struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	logger     *zap.Logger
}

// embedRequest is the /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the /api/embed response format.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// NewEmbeddingService creates a new Ollama embedding service.
func NewEmbeddingService(cfg Config) *EmbeddingService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	return &EmbeddingService{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     logger.OrNop(cfg.Logger),
	}
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one /api/embed call.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, s.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, s.model, errorType(err)).Inc()
		s.logger.Debug("ollama embed failed",
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, s.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, s.model).Observe(time.Since(start).Seconds())
	return vectors, nil
}

func (s *EmbeddingService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+"/api/embed",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Connection failures and timeouts are worth another attempt.
		return nil, &domain.EmbeddingError{Transient: true, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.EmbeddingError{
			Transient:  transientStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ollama error: %s", bytes.TrimSpace(body)),
		}
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, &domain.EmbeddingError{
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(embedResp.Embeddings), len(texts)),
		}
	}

	// Convert float64 to float32
	out := make([][]float32, len(embedResp.Embeddings))
	for i, raw := range embedResp.Embeddings {
		if len(raw) != s.dimensions {
			return nil, &domain.EmbeddingError{
				Err: fmt.Errorf("%w: model returned %d dimensions, configured %d",
					domain.ErrDimensionMismatch, len(raw), s.dimensions),
			}
		}
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func errorType(err error) string {
	var embErr *domain.EmbeddingError
	switch {
	case errors.As(err, &embErr) && embErr.StatusCode != 0:
		return "api_error"
	case errors.As(err, &embErr) && embErr.Transient:
		return "transport"
	default:
		return "invalid_response"
	}
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping validates the service is reachable by checking the /api/tags endpoint.
// This is a lightweight check that validates connectivity without running inference.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return fmt.Errorf("ollama: API returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
