package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService manages ingested documents.
type DocumentService struct {
	store     driven.DocumentStore
	ingestion driving.IngestionService
	logger    *zap.Logger
}

// NewDocumentService creates a new document service.
// ingestion may be nil when no pipeline runs in this process.
func NewDocumentService(
	store driven.DocumentStore,
	ingestion driving.IngestionService,
	log *zap.Logger,
) *DocumentService {
	return &DocumentService{
		store:     store,
		ingestion: ingestion,
		logger:    logger.OrNop(log),
	}
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.DocumentMeta, error) {
	meta, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return meta, nil
}

// List returns every document, newest first.
func (s *DocumentService) List(ctx context.Context) ([]domain.DocumentMeta, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Chunks returns a document's chunks in order.
func (s *DocumentService) Chunks(ctx context.Context, id string) ([]domain.DocumentChunk, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	chunks, err := s.store.GetChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	return chunks, nil
}

// Delete removes a document and its chunks. An in-flight ingestion of the
// same ID is cancelled and awaited first so it cannot write afterwards.
func (s *DocumentService) Delete(ctx context.Context, id string) (bool, error) {
	if s.ingestion != nil && s.ingestion.Cancel(id) {
		if err := s.ingestion.Wait(ctx, id); err != nil {
			return false, fmt.Errorf("wait for ingestion: %w", err)
		}
	}

	err := s.store.DeleteDocument(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}

	s.logger.Info("document deleted", zap.String("document_id", id))
	return true, nil
}

// VerifyIntegrity removes documents left in indexing by an interrupted run.
// Call it at startup before any ingestion begins.
func (s *DocumentService) VerifyIntegrity(ctx context.Context) ([]domain.DocumentMeta, error) {
	purged, err := s.store.PurgeStalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge stalled documents: %w", err)
	}
	for _, doc := range purged {
		s.logger.Warn("removed document stuck in indexing",
			zap.String("document_id", doc.ID),
			zap.String("title", doc.Title))
	}
	return purged, nil
}
