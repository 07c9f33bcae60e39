package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockExtractor returns fixed segments or an error.
type mockExtractor struct {
	segments []domain.Segment
	err      error
}

func (m *mockExtractor) Extensions() []string { return []string{".txt"} }

func (m *mockExtractor) Extract(_ context.Context, _ string) ([]domain.Segment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.segments, nil
}

// mockRegistry maps every ".txt" path to one extractor.
type mockRegistry struct {
	mu        sync.Mutex
	extractor driven.Extractor
}

func (m *mockRegistry) Register(e driven.Extractor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractor = e
}

func (m *mockRegistry) For(path string) (driven.Extractor, error) {
	if !m.Supported(path) {
		return nil, domain.ErrUnsupportedType
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractor, nil
}

func (m *mockRegistry) Supported(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func registryWith(segments ...domain.Segment) *mockRegistry {
	return &mockRegistry{extractor: &mockExtractor{segments: segments}}
}

// mockEmbeddingService returns a fixed vector per text. The first failures
// calls to EmbedBatch fail with failErr. When block is set, each batch call
// signals started and waits for release.
type mockEmbeddingService struct {
	dims    int
	vectors map[string][]float32

	mu         sync.Mutex
	failures   int
	failErr    error
	batchCalls int
	embedCalls int

	block   bool
	started chan struct{}
	release chan struct{}
}

func newMockEmbedder(dims int) *mockEmbeddingService {
	return &mockEmbeddingService{
		dims:    dims,
		vectors: make(map[string][]float32),
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (m *mockEmbeddingService) vector(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	v := make([]float32, m.dims)
	v[0] = 1
	return v
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return nil, m.failErr
	}
	m.mu.Unlock()
	return m.vector(text), nil
}

func (m *mockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batchCalls++
	block := m.block
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return nil, m.failErr
	}
	m.mu.Unlock()

	if block {
		m.started <- struct{}{}
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *mockEmbeddingService) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

func (m *mockEmbeddingService) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

func (m *mockEmbeddingService) Dimensions() int { return m.dims }
func (m *mockEmbeddingService) ModelName() string { return "mock-embed" }
func (m *mockEmbeddingService) Ping(_ context.Context) error { return nil }
func (m *mockEmbeddingService) Close() error { return nil }

var errTransient = &domain.EmbeddingError{Transient: true, StatusCode: 503, Err: errors.New("service unavailable")}

// failingStore wraps a DocumentStore and fails AddDocument.
type failingStore struct {
	driven.DocumentStore
	addErr error
}

func (f *failingStore) AddDocument(_ context.Context, _ domain.DocumentMeta, _ []domain.DocumentChunk) error {
	return f.addErr
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.IngestionProgress
}

func (r *recordingPublisher) Publish(ev domain.IngestionProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) Events() []domain.IngestionProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.IngestionProgress(nil), r.events...)
}

func (r *recordingPublisher) Stages() []domain.Stage {
	var stages []domain.Stage
	for _, ev := range r.Events() {
		stages = append(stages, ev.Stage)
	}
	return stages
}
