// Package cache wraps an embedding service with a query vector cache.
//
// Only single-text Embed calls (search queries) are cached. Batch calls made
// during ingestion go straight to the wrapped service. Cached values are
// query vectors, never search results, so deleted documents cannot leak
// back through the cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure Embedder implements the interface.
var _ driven.EmbeddingService = (*Embedder)(nil)

// Embedder caches query embeddings in a driven.EmbeddingCache.
type Embedder struct {
	driven.EmbeddingService

	cache  driven.EmbeddingCache
	group  singleflight.Group
	logger *zap.Logger
}

// New wraps inner with cache.
func New(inner driven.EmbeddingService, cache driven.EmbeddingCache, log *zap.Logger) *Embedder {
	return &Embedder{
		EmbeddingService: inner,
		cache:            cache,
		logger:           logger.OrNop(log),
	}
}

// Key returns the cache key for text under the wrapped model.
func (e *Embedder) Key(text string) string {
	sum := sha256.Sum256([]byte(e.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or embeds and caches it.
// Concurrent misses for the same text share one upstream call.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.Key(text)

	if vec, ok := e.lookup(ctx, key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	ch := e.group.DoChan(key, func() (any, error) {
		vec, err := e.EmbeddingService.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(context.WithoutCancel(ctx), key, encode(vec)); err != nil {
			e.logger.Warn("query cache write failed", zap.Error(err))
		}
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		vec := res.Val.([]float32)
		return append([]float32(nil), vec...), nil
	}
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("query cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	vec, err := decode(raw)
	if err != nil {
		e.logger.Warn("query cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if dim := e.Dimensions(); dim > 0 && len(vec) != dim {
		return nil, false
	}
	return vec, true
}

// Purge empties the cache.
func (e *Embedder) Purge(ctx context.Context) error {
	return e.cache.Purge(ctx)
}

// encode stores a vector as little-endian float32s.
func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
