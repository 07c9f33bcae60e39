package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// SearchService embeds queries and ranks stored passages by similarity.
type SearchService struct {
	store        driven.DocumentStore
	embedder     driven.EmbeddingService
	cfg          domain.RetrievalConfig
	embedTimeout time.Duration
	logger       *zap.Logger
}

// NewSearchService creates a new search service.
// embedder may wrap a query cache; results themselves are never cached.
func NewSearchService(
	store driven.DocumentStore,
	embedder driven.EmbeddingService,
	cfg domain.RetrievalConfig,
	embedTimeout time.Duration,
	log *zap.Logger,
) *SearchService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = domain.DefaultSearchLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(cfg.DefaultLimit, domain.DefaultMaxSearchLimit)
	}
	return &SearchService{
		store:        store,
		embedder:     embedder,
		cfg:          cfg,
		embedTimeout: embedTimeout,
		logger:       logger.OrNop(log),
	}
}

// Search embeds query and returns up to the limit of ranked passages, each
// with its owning document's metadata.
func (s *SearchService) Search(
	ctx context.Context, query string, opts domain.SearchOptions,
) ([]domain.DocSearchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, query, opts)

	status := "ok"
	var embErr *domain.SearchEmbeddingError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = "invalid"
	case errors.As(err, &embErr):
		status = "embedding_error"
	case err != nil:
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(status).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	return results, err
}

func (s *SearchService) search(
	ctx context.Context, query string, opts domain.SearchOptions,
) ([]domain.DocSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if s.embedder == nil {
		return nil, &domain.SearchEmbeddingError{Err: domain.ErrEmbeddingUnavailable}
	}

	embedCtx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	vector, err := s.embedder.Embed(embedCtx, query)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return nil, &domain.SearchEmbeddingError{Err: err}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	var filter *domain.SearchFilter
	if len(opts.DocumentIDs) > 0 {
		filter = &domain.SearchFilter{DocumentIDs: opts.DocumentIDs}
	}

	hits, err := s.store.SimilaritySearch(ctx, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(hits) == 0 {
		return []domain.DocSearchResult{}, nil
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if !seen[h.Chunk.DocumentID] {
			seen[h.Chunk.DocumentID] = true
			ids = append(ids, h.Chunk.DocumentID)
		}
	}
	metas, err := s.store.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load document metadata: %w", err)
	}

	floor := opts.MinScore
	if floor == nil {
		floor = s.cfg.MinScore
	}

	results := make([]domain.DocSearchResult, 0, len(hits))
	for _, h := range hits {
		meta, ok := metas[h.Chunk.DocumentID]
		if !ok || meta.Status != domain.StatusIndexed {
			continue
		}
		if floor != nil && h.Score < *floor {
			continue
		}
		results = append(results, domain.DocSearchResult{
			Chunk:    h.Chunk,
			Score:    h.Score,
			Metadata: meta,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.logger.Debug("search complete",
		zap.String("query", query),
		zap.Int("limit", limit),
		zap.Int("results", len(results)))
	return results, nil
}
