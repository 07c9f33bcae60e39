package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/contract"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// It backs tests and the --ephemeral mode.
type DocumentStore struct {
	mu        sync.RWMutex
	dim       int
	documents map[string]domain.DocumentMeta
	chunks    map[string][]domain.DocumentChunk

	// writes serialises mutations of one document.
	writes *contract.KeyedMutex
}

// NewDocumentStore creates a new in-memory document store with the given
// vector dimension. Zero adopts the dimension of the first stored chunk.
func NewDocumentStore(dim int) *DocumentStore {
	return &DocumentStore{
		dim:       dim,
		documents: make(map[string]domain.DocumentMeta),
		chunks:    make(map[string][]domain.DocumentChunk),
		writes:    contract.NewKeyedMutex(),
	}
}

// CreateDocument records meta with status indexing.
func (s *DocumentStore) CreateDocument(_ context.Context, meta domain.DocumentMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("%w: document id required", domain.ErrInvalidInput)
	}
	unlock := s.writes.Lock(meta.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.documents[meta.ID]; ok {
		switch existing.Status {
		case domain.StatusIndexing:
			return fmt.Errorf("document %s: %w", meta.ID, domain.ErrIngestionInProgress)
		case domain.StatusIndexed:
			return fmt.Errorf("document %s: %w", meta.ID, domain.ErrAlreadyExists)
		}
		delete(s.chunks, meta.ID)
	}

	meta.Status = domain.StatusIndexing
	meta.FailureReason = ""
	s.documents[meta.ID] = meta
	return nil
}

// AddDocument atomically stores chunks and marks meta indexed.
func (s *DocumentStore) AddDocument(_ context.Context, meta domain.DocumentMeta, chunks []domain.DocumentChunk) error {
	unlock := s.writes.Lock(meta.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 && len(chunks) > 0 {
		dim = len(chunks[0].Vector)
	}
	if err := contract.ValidateChunks(meta.ID, chunks, dim); err != nil {
		return &domain.StoreWriteError{DocumentID: meta.ID, Err: err}
	}

	if existing, ok := s.documents[meta.ID]; ok && !existing.Status.CanTransitionTo(domain.StatusIndexed) {
		return &domain.StoreWriteError{
			DocumentID: meta.ID,
			Err:        fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, existing.Status, domain.StatusIndexed),
		}
	}

	stored := make([]domain.DocumentChunk, len(chunks))
	for _, c := range chunks {
		stored[c.ChunkIndex] = cloneChunk(c)
	}

	s.dim = dim
	meta.Status = domain.StatusIndexed
	meta.FailureReason = ""
	s.documents[meta.ID] = meta
	s.chunks[meta.ID] = stored
	return nil
}

// MarkFailed removes the document's chunks and moves it to failed.
func (s *DocumentStore) MarkFailed(_ context.Context, id, reason string) error {
	unlock := s.writes.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if !meta.Status.CanTransitionTo(domain.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, meta.Status, domain.StatusFailed)
	}

	delete(s.chunks, id)
	meta.Status = domain.StatusFailed
	meta.FailureReason = reason
	s.documents[id] = meta
	return nil
}

// DeleteDocument removes a document and all of its chunks.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	unlock := s.writes.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.DocumentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return &meta, nil
}

// GetDocuments retrieves documents by ID.
func (s *DocumentStore) GetDocuments(_ context.Context, ids []string) (map[string]domain.DocumentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.DocumentMeta, len(ids))
	for _, id := range ids {
		if meta, ok := s.documents[id]; ok {
			out[id] = meta
		}
	}
	return out, nil
}

// ListDocuments returns every document, newest first.
func (s *DocumentStore) ListDocuments(_ context.Context) ([]domain.DocumentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.DocumentMeta, 0, len(s.documents))
	for _, meta := range s.documents {
		docs = append(docs, meta)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadDate.Equal(docs[j].UploadDate) {
			return docs[i].UploadDate.After(docs[j].UploadDate)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// GetChunks returns a document's chunks ordered by chunk index.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.chunks[documentID]
	out := make([]domain.DocumentChunk, len(stored))
	for i, c := range stored {
		out[i] = cloneChunk(c)
	}
	return out, nil
}

// SimilaritySearch ranks chunks of indexed documents by cosine similarity.
func (s *DocumentStore) SimilaritySearch(
	_ context.Context, query []float32, limit int, filter *domain.SearchFilter,
) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := contract.CheckQuery(query, s.dim); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if !filter.IsEmpty() {
		allowed = make(map[string]bool, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			allowed[id] = true
		}
	}

	top := contract.NewTopK(limit)
	for id, meta := range s.documents {
		if meta.Status != domain.StatusIndexed {
			continue
		}
		if allowed != nil && !allowed[id] {
			continue
		}
		for _, c := range s.chunks[id] {
			if len(c.Vector) != len(query) {
				continue
			}
			top.Offer(contract.Candidate{
				Chunk:      c,
				Score:      contract.Cosine(query, c.Vector),
				UploadDate: meta.UploadDate,
			})
		}
	}

	results := top.Results()
	for i := range results {
		results[i].Chunk = cloneChunk(results[i].Chunk)
	}
	return results, nil
}

// PurgeStalled deletes documents left in indexing.
func (s *DocumentStore) PurgeStalled(_ context.Context) ([]domain.DocumentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged []domain.DocumentMeta
	for id, meta := range s.documents {
		if meta.Status == domain.StatusIndexing {
			purged = append(purged, meta)
			delete(s.documents, id)
			delete(s.chunks, id)
		}
	}
	sort.Slice(purged, func(i, j int) bool { return purged[i].ID < purged[j].ID })
	return purged, nil
}

// Dimensions returns the store-wide vector dimension.
func (s *DocumentStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Close is a no-op.
func (s *DocumentStore) Close() error {
	return nil
}

func cloneChunk(c domain.DocumentChunk) domain.DocumentChunk {
	c.Vector = append([]float32(nil), c.Vector...)
	if c.BBox != nil {
		b := *c.BBox
		c.BBox = &b
	}
	if c.Spans != nil {
		c.Spans = append([]domain.Span(nil), c.Spans...)
	}
	return c
}
