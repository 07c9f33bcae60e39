package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/kbase/internal/connectors/filesystem"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// mockIngestionService indexes documents instantly and publishes the
// stages on progress.
type mockIngestionService struct {
	mu       sync.Mutex
	docs     *mockDocumentService
	progress *mockProgressService
	fail     map[string]string
	addErr   error
	added    []driving.IngestRequest
	waited   []string
	statuses map[string]domain.IngestionStatus
}

func (m *mockIngestionService) Start(context.Context) error { return nil }
func (m *mockIngestionService) Stop()                       {}

func (m *mockIngestionService) AddDocument(ctx context.Context, path string, meta domain.DocumentMeta) (domain.DocumentMeta, error) {
	metas, err := m.AddDocuments(ctx, []driving.IngestRequest{{Path: path, Meta: meta}})
	if len(metas) == 0 {
		return domain.DocumentMeta{}, err
	}
	return metas[0], err
}

func (m *mockIngestionService) AddDocuments(_ context.Context, reqs []driving.IngestRequest) ([]domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return nil, m.addErr
	}

	metas := make([]domain.DocumentMeta, 0, len(reqs))
	for _, req := range reqs {
		m.added = append(m.added, req)
		meta := req.Meta
		meta.Path = req.Path
		if meta.Title == "" {
			meta.Title = "title-" + meta.ID
		}
		meta.UploadDate = time.Now().UTC()
		meta.Status = domain.StatusIndexed
		stages := []domain.Stage{domain.StageStarting, domain.StageParsing, domain.StageVectorizing, domain.StageStoring, domain.StageDone}
		if reason, ok := m.fail[req.Path]; ok {
			meta.Status = domain.StatusFailed
			meta.FailureReason = reason
			stages = []domain.Stage{domain.StageStarting, domain.StageError}
		}
		if m.docs != nil {
			m.docs.put(meta)
		}
		if m.progress != nil {
			for _, stage := range stages {
				ev := domain.IngestionProgress{FileID: meta.ID, Stage: stage, Current: 1, Total: 1}
				if stage == domain.StageError {
					ev.Reason = meta.FailureReason
				}
				m.progress.publish(ev)
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (m *mockIngestionService) Ingest(ctx context.Context, path string, meta domain.DocumentMeta) (domain.DocumentMeta, error) {
	return m.AddDocument(ctx, path, meta)
}

func (m *mockIngestionService) Cancel(string) bool { return false }

func (m *mockIngestionService) Wait(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waited = append(m.waited, id)
	return nil
}

func (m *mockIngestionService) Status(id string) (domain.IngestionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[id]
	return st, ok
}

func (m *mockIngestionService) requests() []driving.IngestRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]driving.IngestRequest(nil), m.added...)
}

// mockDocumentService is an in-memory document list.
type mockDocumentService struct {
	mu        sync.Mutex
	docs      map[string]domain.DocumentMeta
	order     []string
	chunks    map[string][]domain.DocumentChunk
	purged    []domain.DocumentMeta
	verified  int
	listErr   error
	verifyErr error
}

func newMockDocumentService() *mockDocumentService {
	return &mockDocumentService{
		docs:   make(map[string]domain.DocumentMeta),
		chunks: make(map[string][]domain.DocumentChunk),
	}
}

func (m *mockDocumentService) put(meta domain.DocumentMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[meta.ID]; !ok {
		m.order = append(m.order, meta.ID)
	}
	m.docs[meta.ID] = meta
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (m *mockDocumentService) List(context.Context) ([]domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.DocumentMeta, 0, len(m.order))
	for _, id := range m.order {
		if doc, ok := m.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *mockDocumentService) Chunks(_ context.Context, id string) ([]domain.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return m.chunks[id], nil
}

func (m *mockDocumentService) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	return true, nil
}

func (m *mockDocumentService) VerifyIntegrity(context.Context) ([]domain.DocumentMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified++
	return m.purged, m.verifyErr
}

// mockSearchService returns fixed results and records the last call.
type mockSearchService struct {
	results   []domain.DocSearchResult
	err       error
	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(_ context.Context, query string, opts domain.SearchOptions) ([]domain.DocSearchResult, error) {
	m.lastQuery = query
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

// mockProgressService fans events out to buffered subscriptions.
type mockProgressService struct {
	mu   sync.Mutex
	subs []*mockSubscription
}

type mockSubscription struct {
	svc    *mockProgressService
	fileID string
	ch     chan domain.IngestionProgress
	closed bool
}

func (s *mockSubscription) Events() <-chan domain.IngestionProgress { return s.ch }
func (s *mockSubscription) Dropped() uint64                         { return 0 }

func (s *mockSubscription) Unsubscribe() {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (m *mockProgressService) subscribe(fileID string) *mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &mockSubscription{svc: m, fileID: fileID, ch: make(chan domain.IngestionProgress, 64)}
	m.subs = append(m.subs, sub)
	return sub
}

func (m *mockProgressService) Subscribe(fileID string) driving.ProgressSubscription {
	return m.subscribe(fileID)
}

func (m *mockProgressService) SubscribeAll() driving.ProgressSubscription {
	return m.subscribe("")
}

func (m *mockProgressService) OnProgress(string, func(domain.IngestionProgress)) func() {
	return func() {}
}

func (m *mockProgressService) publish(ev domain.IngestionProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.closed || (sub.fileID != "" && sub.fileID != ev.FileID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// mockSettingsService keeps settings in memory.
type mockSettingsService struct {
	settings domain.Settings
	path     string
	saved    int
	saveErr  error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultSettings()}
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(settings *domain.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	m.settings = *settings
	m.saved++
	return nil
}

func (m *mockSettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return domain.ErrUnsupportedType
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return errors.New("API key required")
	}
	s := m.settings
	s.Embedding = domain.EmbeddingConfig{Provider: provider, Model: model, APIKey: apiKey}
	s.ApplyDefaults()
	return m.Save(&s)
}

func (m *mockSettingsService) Validate() error {
	return m.settings.Validate()
}

func (m *mockSettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

func (m *mockSettingsService) Path() string {
	return m.path
}

// testServices are the mocks installed by setupTestServices.
type testServices struct {
	ingestion *mockIngestionService
	documents *mockDocumentService
	search    *mockSearchService
	progress  *mockProgressService
	settings  *mockSettingsService
}

// setupTestServices installs mock services and returns a cleanup function
// restoring the previous ones.
func setupTestServices() func() {
	_, cleanup := setupTestServicesWith()
	return cleanup
}

func setupTestServicesWith() (*testServices, func()) {
	docs := newMockDocumentService()
	progress := &mockProgressService{}
	ts := &testServices{
		ingestion: &mockIngestionService{docs: docs, progress: progress, fail: map[string]string{}, statuses: map[string]domain.IngestionStatus{}},
		documents: docs,
		search: &mockSearchService{results: []domain.DocSearchResult{{
			Chunk: domain.DocumentChunk{
				ID:          "c1",
				DocumentID:  "doc-1",
				Text:        "The quick brown fox jumps over the lazy dog.",
				Vector:      []float32{0.1, 0.2},
				PageNumber:  2,
				ChunkIndex:  0,
				TotalChunks: 3,
			},
			Score:    0.87,
			Metadata: domain.DocumentMeta{ID: "doc-1", Title: "Foxes", Status: domain.StatusIndexed},
		}}},
		progress: progress,
		settings: newMockSettingsService(),
	}

	prev := struct {
		ingestion  driving.IngestionService
		search     driving.SearchService
		documents  driving.DocumentService
		progress   driving.ProgressService
		settings   driving.SettingsService
		bootstrap  Bootstrapper
		extensions []string
	}{ingestionService, searchService, documentService, progressService, settingsService, bootstrapper, supportedExtensions}

	ingestionService = ts.ingestion
	searchService = ts.search
	documentService = ts.documents
	progressService = ts.progress
	settingsService = ts.settings
	bootstrapper = nil
	supportedExtensions = []string{".md", ".txt"}

	return ts, func() {
		ingestionService = prev.ingestion
		searchService = prev.search
		documentService = prev.documents
		progressService = prev.progress
		settingsService = prev.settings
		bootstrapper = prev.bootstrap
		supportedExtensions = prev.extensions
		resetFlags()
	}
}

// resetFlags restores command flag variables to their defaults; cobra keeps
// parsed values between Execute calls.
func resetFlags() {
	searchLimit, searchMinScore, searchDocuments, searchJSON = 0, 0, nil, false
	documentStatusFilter, documentJSON = "", false
	addID, addTitle, addWait = "", "", false
	settingsForce = false
	embeddingProvider, embeddingModel, embeddingAPIKey = "", "", ""
	serveAddr, serveWatchDir = "", ""
	watchDebounce = filesystem.DefaultDebounce
	globalOpts = Options{}
	resetChanged(rootCmd)
}

func resetChanged(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, c := range cmd.Commands() {
		resetChanged(c)
	}
}
