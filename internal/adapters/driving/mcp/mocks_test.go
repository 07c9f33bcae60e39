package mcp

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	results []domain.DocSearchResult
	err     error

	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(
	_ context.Context,
	query string,
	opts domain.SearchOptions,
) ([]domain.DocSearchResult, error) {
	m.lastQuery = query
	m.lastOpts = opts
	return m.results, m.err
}

// mockIngestionService is a mock implementation of driving.IngestionService.
type mockIngestionService struct {
	meta domain.DocumentMeta
	err  error

	ingested bool
	queued   bool
	lastPath string
}

func (m *mockIngestionService) Start(context.Context) error { return nil }

func (m *mockIngestionService) Stop() {}

func (m *mockIngestionService) AddDocument(
	_ context.Context, path string, meta domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	m.queued = true
	m.lastPath = path
	if m.err != nil {
		return domain.DocumentMeta{}, m.err
	}
	out := m.meta
	if meta.ID != "" {
		out.ID = meta.ID
	}
	return out, nil
}

func (m *mockIngestionService) AddDocuments(
	context.Context, []driving.IngestRequest,
) ([]domain.DocumentMeta, error) {
	return nil, m.err
}

func (m *mockIngestionService) Ingest(
	_ context.Context, path string, _ domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	m.ingested = true
	m.lastPath = path
	return m.meta, m.err
}

func (m *mockIngestionService) Cancel(string) bool { return false }

func (m *mockIngestionService) Wait(context.Context, string) error { return nil }

func (m *mockIngestionService) Status(string) (domain.IngestionStatus, bool) {
	return domain.IngestionStatus{}, false
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.DocumentMeta
	chunks    []domain.DocumentChunk
	deleted   bool
	err       error
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.DocumentMeta, error) {
	for i := range m.documents {
		if m.documents[i].ID == id {
			return &m.documents[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) List(context.Context) ([]domain.DocumentMeta, error) {
	return m.documents, m.err
}

func (m *mockDocumentService) Chunks(context.Context, string) ([]domain.DocumentChunk, error) {
	return m.chunks, m.err
}

func (m *mockDocumentService) Delete(context.Context, string) (bool, error) {
	return m.deleted, m.err
}

func (m *mockDocumentService) VerifyIntegrity(context.Context) ([]domain.DocumentMeta, error) {
	return nil, m.err
}
