// Package ratelimit wraps an embedding service with a token bucket so
// ingestion workers and searches share one request budget.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.EmbeddingService = (*Embedder)(nil)

// DefaultBackoff is the pause applied after the provider answers 429.
const DefaultBackoff = 5 * time.Second

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate limit.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
	// Backoff is how long all callers pause after a 429 (default: 5s).
	Backoff time.Duration
}

// Embedder limits calls to the wrapped service. Every Embed or EmbedBatch
// call consumes one token.
type Embedder struct {
	driven.EmbeddingService

	limiter *rate.Limiter
	backoff time.Duration

	mu      sync.Mutex
	retryAt time.Time
}

// New wraps inner. A non-positive rate disables limiting and returns inner.
func New(inner driven.EmbeddingService, cfg Config) driven.EmbeddingService {
	if cfg.RequestsPerSecond <= 0 {
		return inner
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Embedder{
		EmbeddingService: inner,
		limiter:          rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		backoff:          cfg.Backoff,
	}
}

// Embed waits for a token then embeds text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.Wait(ctx); err != nil {
		return nil, err
	}
	vec, err := e.EmbeddingService.Embed(ctx, text)
	e.observe(err)
	return vec, err
}

// EmbedBatch waits for a token then embeds texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.Wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := e.EmbeddingService.EmbedBatch(ctx, texts)
	e.observe(err)
	return vecs, err
}

// Wait blocks until a request can be made without exceeding the rate limit.
// It also respects any backoff period set by a rate limited response.
func (e *Embedder) Wait(ctx context.Context) error {
	e.mu.Lock()
	retryAt := e.retryAt
	e.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	// Then wait for the token bucket. The limiter refuses up front when the
	// token would arrive after the deadline; that is a throttled call.
	if err := e.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.EmbeddingError{Transient: true, Err: err}
	}
	return nil
}

// observe starts a shared backoff when the provider rate limited us.
func (e *Embedder) observe(err error) {
	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) || embErr.StatusCode != http.StatusTooManyRequests {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryAt = time.Now().Add(e.backoff)
}
