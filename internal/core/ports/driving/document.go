package driving

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// DocumentService manages ingested documents.
type DocumentService interface {
	// Get retrieves a document by ID.
	Get(ctx context.Context, id string) (*domain.DocumentMeta, error)

	// List returns every document, newest first.
	List(ctx context.Context) ([]domain.DocumentMeta, error)

	// Chunks returns a document's chunks in order.
	Chunks(ctx context.Context, id string) ([]domain.DocumentChunk, error)

	// Delete removes a document and its chunks, cancelling any ingestion
	// of it first. Returns false if no such document existed.
	Delete(ctx context.Context, id string) (bool, error)

	// VerifyIntegrity removes documents stuck in indexing after a crash.
	VerifyIntegrity(ctx context.Context) ([]domain.DocumentMeta, error)
}
