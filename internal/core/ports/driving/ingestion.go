package driving

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// IngestRequest names one file to ingest.
type IngestRequest struct {
	Path string
	Meta domain.DocumentMeta
}

// IngestionService drives files through extraction, chunking, embedding
// and storage.
type IngestionService interface {
	// Start launches the worker pool. It returns once workers are running.
	Start(ctx context.Context) error

	// Stop stops accepting work, drains the queue and waits for workers.
	Stop()

	// AddDocument records the document as indexing and queues it.
	// Progress is reported on the progress bus, not through the return value.
	// The returned meta carries generated defaults such as the ID.
	AddDocument(ctx context.Context, path string, meta domain.DocumentMeta) (domain.DocumentMeta, error)

	// AddDocuments queues a batch. Each file is independent; errors for
	// individual files are joined.
	AddDocuments(ctx context.Context, reqs []IngestRequest) ([]domain.DocumentMeta, error)

	// Ingest runs the whole pipeline for one file on the calling goroutine.
	Ingest(ctx context.Context, path string, meta domain.DocumentMeta) (domain.DocumentMeta, error)

	// Cancel asks an in-flight ingestion to stop at its next checkpoint.
	// Returns false if the ID is not in flight.
	Cancel(id string) bool

	// Wait blocks until the ID's pipeline has finished or ctx is done.
	// Returns immediately if the ID is not in flight.
	Wait(ctx context.Context, id string) error

	// Status returns a snapshot of an in-flight ingestion.
	Status(id string) (domain.IngestionStatus, bool)
}
