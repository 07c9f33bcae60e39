// Package openai provides an embedding service adapter using the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const providerName = "openai"

// Default configuration values.
const (
	DefaultModel   = domain.DefaultOpenAIModel
	DefaultTimeout = 60 * time.Second
)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config holds configuration for the OpenAI embedding service.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the embedding model to use (default: text-embedding-3-small).
	Model string

	// Timeout bounds a single HTTP request (default: 60s).
	Timeout time.Duration

	// Dimensions overrides the default dimension for the model.
	// Only sent to the API for text-embedding-3-* models.
	Dimensions int

	Logger *zap.Logger
}

// EmbeddingService generates embeddings using the OpenAI API.
type EmbeddingService struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewEmbeddingService creates a new OpenAI embedding service.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: API key is required", domain.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Determine dimensions
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		var ok bool
		dimensions, ok = modelDimensions[cfg.Model]
		if !ok {
			dimensions = domain.DefaultOpenAIDims
		}
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClient

	return &EmbeddingService{
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		model:      cfg.Model,
		dimensions: dimensions,
		logger:     logger.OrNop(cfg.Logger),
	}, nil
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(s.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	// Only text-embedding-3-* models accept a dimensions parameter
	if strings.HasPrefix(s.model, "text-embedding-3-") {
		req.Dimensions = s.dimensions
	}

	start := time.Now()
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		embErr := classify(err)
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, s.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, s.model, "api_error").Inc()
		s.logger.Debug("openai embed failed", zap.Int("texts", len(texts)), zap.Error(embErr))
		return nil, embErr
	}

	embeddings, err := s.collect(resp.Data, len(texts))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, s.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, s.model, "invalid_response").Inc()
		return nil, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, s.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, s.model).Observe(time.Since(start).Seconds())
	return embeddings, nil
}

// collect orders the response by index and checks it is complete.
func (s *EmbeddingService) collect(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("got %d embeddings for %d inputs", len(data), n)}
	}
	embeddings := make([][]float32, n)
	for _, d := range data {
		if d.Index < 0 || d.Index >= n || embeddings[d.Index] != nil {
			return nil, &domain.EmbeddingError{Err: fmt.Errorf("unexpected embedding index %d", d.Index)}
		}
		if len(d.Embedding) != s.dimensions {
			return nil, &domain.EmbeddingError{
				Err: fmt.Errorf("%w: model returned %d dimensions, configured %d",
					domain.ErrDimensionMismatch, len(d.Embedding), s.dimensions),
			}
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// classify maps client errors to *domain.EmbeddingError. Rate limits,
// server errors and transport failures are transient.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.EmbeddingError{
			Transient:  transientStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        fmt.Errorf("openai error: %s", apiErr.Message),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractMessage(reqErr.Body)
		if detail == "" {
			detail = reqErr.Error()
		}
		return &domain.EmbeddingError{
			Transient:  transientStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        fmt.Errorf("openai error: %s", detail),
		}
	}

	return &domain.EmbeddingError{Transient: true, Err: fmt.Errorf("openai request failed: %w", err)}
}

// extractMessage pulls a message out of a JSON error body.
func extractMessage(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return parsed.Detail
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping validates the API key via the free models endpoint.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai: ping failed: %w", classify(err))
	}
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
