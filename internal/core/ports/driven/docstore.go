package driven

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// DocumentStore persists document metadata and embedded chunks.
// It is the single source of truth for whether ingestion succeeded.
//
// Writes are serialised per document; different documents may be
// written concurrently.
type DocumentStore interface {
	// CreateDocument records meta with status indexing.
	// A failed record with the same ID is replaced and its chunks removed.
	// Returns domain.ErrIngestionInProgress if the ID is indexing and
	// domain.ErrAlreadyExists if it is indexed.
	CreateDocument(ctx context.Context, meta domain.DocumentMeta) error

	// AddDocument atomically stores chunks and marks meta indexed.
	// Either every chunk and the indexed meta become visible together or
	// nothing changes. Failures are returned as *domain.StoreWriteError.
	AddDocument(ctx context.Context, meta domain.DocumentMeta, chunks []domain.DocumentChunk) error

	// MarkFailed removes the document's chunks and moves it from indexing
	// to failed with the given reason, in one transaction.
	MarkFailed(ctx context.Context, id, reason string) error

	// DeleteDocument removes a document and all of its chunks.
	// Returns domain.ErrNotFound if the document does not exist.
	DeleteDocument(ctx context.Context, id string) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.DocumentMeta, error)

	// GetDocuments retrieves documents by ID in one lookup.
	// Missing IDs are absent from the result map.
	GetDocuments(ctx context.Context, ids []string) (map[string]domain.DocumentMeta, error)

	// ListDocuments returns every document, newest first.
	ListDocuments(ctx context.Context) ([]domain.DocumentMeta, error)

	// GetChunks returns a document's chunks ordered by chunk index.
	GetChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)

	// SimilaritySearch returns up to limit chunks of indexed documents ranked
	// by cosine similarity to query. Ties go to the more recently uploaded
	// document, then to the lower chunk index.
	SimilaritySearch(ctx context.Context, query []float32, limit int, filter *domain.SearchFilter) ([]domain.ScoredChunk, error)

	// PurgeStalled deletes documents left in indexing by an interrupted run
	// and returns them.
	PurgeStalled(ctx context.Context) ([]domain.DocumentMeta, error)

	// Dimensions returns the store-wide vector dimension.
	Dimensions() int

	// Close releases resources.
	Close() error
}
