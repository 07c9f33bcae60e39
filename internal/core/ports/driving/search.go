package driving

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// SearchService provides retrieval to external actors.
type SearchService interface {
	// Search embeds query and returns ranked passages with their documents.
	// A blank query fails with domain.ErrEmptyQuery without embedding.
	// An embedder failure returns *domain.SearchEmbeddingError and no results.
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.DocSearchResult, error)
}
