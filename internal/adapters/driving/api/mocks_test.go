package api

import (
	"context"
	"sync"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

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

type mockIngestionService struct {
	mu sync.Mutex

	meta     domain.DocumentMeta
	err      error
	inflight map[string]domain.IngestionStatus

	ingested bool
	queued   bool
	lastPath string
	lastMeta domain.DocumentMeta
}

func (m *mockIngestionService) Start(context.Context) error { return nil }

func (m *mockIngestionService) Stop() {}

func (m *mockIngestionService) AddDocument(
	_ context.Context, path string, meta domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = true
	m.lastPath = path
	m.lastMeta = meta
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
	_ context.Context, path string, meta domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested = true
	m.lastPath = path
	m.lastMeta = meta
	return m.meta, m.err
}

func (m *mockIngestionService) Cancel(string) bool { return false }

func (m *mockIngestionService) Wait(context.Context, string) error { return nil }

func (m *mockIngestionService) Status(id string) (domain.IngestionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.inflight[id]
	return st, ok
}

type mockDocumentService struct {
	documents []domain.DocumentMeta
	chunks    []domain.DocumentChunk
	deleted   bool
	err       error
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.DocumentMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.documents {
		if m.documents[i].ID == id {
			doc := m.documents[i]
			return &doc, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) List(context.Context) ([]domain.DocumentMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.DocumentMeta(nil), m.documents...), nil
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

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
