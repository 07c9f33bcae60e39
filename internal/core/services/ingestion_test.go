package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/custodia-labs/kbase/internal/adapters/driven/embedding/ratelimit"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/kbase/internal/chunker"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

const testDims = 4

func testIngestConfig() domain.IngestConfig {
	return domain.IngestConfig{
		Workers:    2,
		QueueSize:  8,
		BatchSize:  4,
		MaxRetries: 3,
		RetryDelay: domain.Duration{Duration: time.Millisecond},
		MaxDelay:   domain.Duration{Duration: 5 * time.Millisecond},
	}
}

// threePageDocument returns 9,000 characters spread over three pages.
func threePageDocument() []domain.Segment {
	return []domain.Segment{
		{Text: strings.Repeat("a", 3000), PageNumber: 1},
		{Text: strings.Repeat("b", 3000), PageNumber: 2},
		{Text: strings.Repeat("c", 3000), PageNumber: 3},
	}
}

type ingestFixture struct {
	store    *memory.DocumentStore
	registry *mockRegistry
	embedder *mockEmbeddingService
	progress *recordingPublisher
	logs     *observer.ObservedLogs
	orch     *IngestionOrchestrator
}

func newIngestFixture(t *testing.T, segments ...domain.Segment) *ingestFixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &ingestFixture{
		store:    memory.NewDocumentStore(testDims),
		registry: registryWith(segments...),
		embedder: newMockEmbedder(testDims),
		progress: &recordingPublisher{},
		logs:     logs,
	}
	f.orch = NewIngestionOrchestrator(
		f.store,
		f.registry,
		chunker.New(chunker.WithChunkSize(1000), chunker.WithOverlap(100)),
		f.embedder,
		f.progress,
		testIngestConfig(),
		zap.New(core),
	)
	return f
}

func (f *ingestFixture) withStore(store driven.DocumentStore) {
	f.orch.store = store
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("doc-1", 3), ChunkID("doc-1", 3))
	assert.NotEqual(t, ChunkID("doc-1", 3), ChunkID("doc-1", 4))
	assert.NotEqual(t, ChunkID("doc-1", 3), ChunkID("doc-2", 3))
}

func TestIngest_ThreePageDocument(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	ctx := context.Background()

	meta, err := f.orch.Ingest(ctx, "/docs/report.txt", domain.DocumentMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "report", meta.Title)
	assert.Equal(t, domain.StatusIndexed, meta.Status)

	stored, err := f.store.GetDocument(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, stored.Status)

	chunks, err := f.store.GetChunks(ctx, meta.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 10)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 10, c.TotalChunks)
		assert.Equal(t, ChunkID(meta.ID, i), c.ID)
		assert.Len(t, c.Vector, testDims)
	}
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 3, chunks[9].PageNumber)

	// 10 passages in batches of 4
	assert.Equal(t, 3, f.embedder.BatchCalls())
	_, inflight := f.orch.Status(meta.ID)
	assert.False(t, inflight)
}

func TestIngest_ProgressEvents(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)

	meta, err := f.orch.Ingest(context.Background(), "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)

	events := f.progress.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.StageStarting, events[0].Stage)
	assert.Equal(t, domain.StageDone, events[len(events)-1].Stage)

	lastOrder := -1
	lastVectorized := -1
	for _, ev := range events {
		assert.Equal(t, meta.ID, ev.FileID)
		assert.GreaterOrEqual(t, ev.Stage.Order(), lastOrder, "stages must not go backwards")
		lastOrder = ev.Stage.Order()
		assert.GreaterOrEqual(t, ev.ETR, 0.0)
		if ev.Stage == domain.StageVectorizing {
			assert.Equal(t, 10, ev.Total)
			assert.GreaterOrEqual(t, ev.Current, lastVectorized)
			lastVectorized = ev.Current
		}
	}
	assert.Equal(t, 10, lastVectorized)
	assert.Equal(t, []domain.Stage{
		domain.StageStarting,
		domain.StageParsing, domain.StageParsing,
		domain.StageVectorizing, domain.StageVectorizing, domain.StageVectorizing, domain.StageVectorizing,
		domain.StageStoring,
		domain.StageDone,
	}, f.progress.Stages())
}

func TestIngest_RetriesThenSucceeds(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.failures = 2
	f.embedder.failErr = errTransient

	meta, err := f.orch.Ingest(context.Background(), "/docs/report.txt", domain.DocumentMeta{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, meta.Status)

	chunks, err := f.store.GetChunks(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 10)

	assert.Equal(t, 2, f.logs.FilterMessage("embedding batch failed, retrying").Len())
	assert.Zero(t, f.logs.FilterMessage("embedding retries exhausted").Len())
}

func TestIngest_RetriesExhausted(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.failures = 4
	f.embedder.failErr = errTransient

	meta, err := f.orch.Ingest(context.Background(), "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.Error(t, err)
	var exhausted *RetriesExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, domain.StatusFailed, meta.Status)

	stored, err := f.store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "max retries exceeded")

	chunks, err := f.store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.Equal(t, 4, f.embedder.BatchCalls())
	assert.Equal(t, 1, f.logs.FilterMessage("embedding retries exhausted").Len())

	events := f.progress.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.StageError, last.Stage)
	assert.NotEmpty(t, last.Reason)
}

func TestIngest_ThrottledBatchIsRetried(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	store := memory.NewDocumentStore(testDims)
	inner := newMockEmbedder(testDims)
	limited := ratelimit.New(inner, ratelimit.Config{RequestsPerSecond: 5, Burst: 1})

	// Spend the burst so the next token is 200ms away, past each attempt deadline.
	_, err := limited.Embed(context.Background(), "warm up")
	require.NoError(t, err)

	cfg := testIngestConfig()
	cfg.MaxRetries = 10
	cfg.RetryDelay = domain.Duration{Duration: 20 * time.Millisecond}
	cfg.MaxDelay = domain.Duration{Duration: 50 * time.Millisecond}
	cfg.EmbedTimeout = domain.Duration{Duration: 50 * time.Millisecond}

	orch := NewIngestionOrchestrator(
		store,
		registryWith(domain.Segment{Text: "a short note", PageNumber: 1}),
		chunker.New(chunker.WithChunkSize(1000), chunker.WithOverlap(100)),
		limited,
		&recordingPublisher{},
		cfg,
		zap.New(core),
	)

	meta, err := orch.Ingest(context.Background(), "/docs/note.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, meta.Status)
	assert.GreaterOrEqual(t, logs.FilterMessage("embedding batch failed, retrying").Len(), 1)
	assert.Equal(t, 1, inner.BatchCalls())

	chunks, err := store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestIngest_PermanentEmbeddingError(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.failures = 1
	f.embedder.failErr = &domain.EmbeddingError{StatusCode: 401, Err: errors.New("invalid api key")}

	_, err := f.orch.Ingest(context.Background(), "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	var embErr *domain.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.False(t, embErr.Transient)
	assert.Equal(t, 1, f.embedder.BatchCalls())
	assert.Empty(t, f.logs.FilterMessage("embedding batch failed, retrying").All())
}

func TestIngest_ExtractionFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.registry.Register(&mockExtractor{err: errors.New("corrupt file")})

	meta, err := f.orch.Ingest(context.Background(), "/docs/broken.txt", domain.DocumentMeta{ID: "doc-1"})
	var extErr *domain.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "/docs/broken.txt", extErr.Path)
	assert.Equal(t, domain.StatusFailed, meta.Status)
	assert.Zero(t, f.embedder.BatchCalls())

	stored, err := f.store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestIngest_UnsupportedType(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.orch.Ingest(context.Background(), "/docs/image.png", domain.DocumentMeta{ID: "doc-1"})
	var extErr *domain.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestIngest_EmptyDocument(t *testing.T) {
	f := newIngestFixture(t)

	meta, err := f.orch.Ingest(context.Background(), "/docs/empty.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, meta.Status)
	assert.Zero(t, f.embedder.BatchCalls())

	chunks, err := f.store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestIngest_StoreWriteFailure(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.withStore(&failingStore{DocumentStore: f.store, addErr: errors.New("disk full")})

	_, err := f.orch.Ingest(context.Background(), "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	var writeErr *domain.StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "doc-1", writeErr.DocumentID)

	stored, err := f.store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	chunks, err := f.store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 1, f.logs.FilterMessage("store write failed").Len())
}

func TestIngest_RetryAfterFailureIsIdempotent(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.failures = 4
	f.embedder.failErr = errTransient
	ctx := context.Background()

	_, err := f.orch.Ingest(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.Error(t, err)

	meta, err := f.orch.Ingest(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, meta.Status)

	chunks, err := f.store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, chunks, 10)

	_, err = f.orch.Ingest(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestIngest_InvalidPath(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.orch.Ingest(context.Background(), "  ", domain.DocumentMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAddDocument_RequiresStart(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)

	_, err := f.orch.AddDocument(context.Background(), "/docs/report.txt", domain.DocumentMeta{})
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

func TestAddDocument_WorkerPool(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	ctx := context.Background()
	require.NoError(t, f.orch.Start(ctx))

	metas, err := f.orch.AddDocuments(ctx, []driving.IngestRequest{
		{Path: "/docs/a.txt", Meta: domain.DocumentMeta{ID: "doc-a"}},
		{Path: "/docs/b.txt", Meta: domain.DocumentMeta{ID: "doc-b"}},
		{Path: "/docs/c.txt", Meta: domain.DocumentMeta{ID: "doc-c"}},
	})
	require.NoError(t, err)
	require.Len(t, metas, 3)

	for _, meta := range metas {
		assert.Equal(t, domain.StatusIndexing, meta.Status)
		require.NoError(t, f.orch.Wait(ctx, meta.ID))
	}
	f.orch.Stop()

	docs, err := f.store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, doc := range docs {
		assert.Equal(t, domain.StatusIndexed, doc.Status, doc.ID)
	}

	_, err = f.orch.AddDocument(ctx, "/docs/d.txt", domain.DocumentMeta{})
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

func TestAddDocument_DuplicateInFlight(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.block = true
	ctx := context.Background()
	require.NoError(t, f.orch.Start(ctx))
	defer f.orch.Stop()

	_, err := f.orch.AddDocument(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	<-f.embedder.started

	_, err = f.orch.AddDocument(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)

	status, ok := f.orch.Status("doc-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateVectorizing, status.State)
	assert.Equal(t, 10, status.Total)

	close(f.embedder.release)
	require.NoError(t, f.orch.Wait(ctx, "doc-1"))
}

func TestAddDocument_BlocksWhileQueueIsFull(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.block = true
	cfg := testIngestConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	f.orch = NewIngestionOrchestrator(
		f.store,
		f.registry,
		chunker.New(chunker.WithChunkSize(1000), chunker.WithOverlap(100)),
		f.embedder,
		f.progress,
		cfg,
		zap.NewNop(),
	)
	ctx := context.Background()
	require.NoError(t, f.orch.Start(ctx))
	defer f.orch.Stop()

	_, err := f.orch.AddDocument(ctx, "/docs/a.txt", domain.DocumentMeta{ID: "doc-a"})
	require.NoError(t, err)
	<-f.embedder.started

	_, err = f.orch.AddDocument(ctx, "/docs/b.txt", domain.DocumentMeta{ID: "doc-b"})
	require.NoError(t, err)

	// The only worker is busy and the queue holds doc-b.
	addCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.orch.AddDocument(addCtx, "/docs/c.txt", domain.DocumentMeta{ID: "doc-c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.embedder.release)
	require.NoError(t, f.orch.Wait(ctx, "doc-a"))
	require.NoError(t, f.orch.Wait(ctx, "doc-b"))
}

func TestCancel_DuringVectorizing(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	f.embedder.block = true
	ctx := context.Background()
	require.NoError(t, f.orch.Start(ctx))
	defer f.orch.Stop()

	_, err := f.orch.AddDocument(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	<-f.embedder.started

	assert.True(t, f.orch.Cancel("doc-1"))
	close(f.embedder.release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Wait(waitCtx, "doc-1"))

	stored, err := f.store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, ReasonCancelled, stored.FailureReason)

	chunks, err := f.store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// The first batch finished; cancellation stops before the second.
	assert.Equal(t, 1, f.embedder.BatchCalls())

	events := f.progress.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.StageError, last.Stage)
	assert.Equal(t, ReasonCancelled, last.Reason)

	assert.False(t, f.orch.Cancel("doc-1"))
}

func TestCancel_BeforeWorkerPicksUp(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	ctx := context.Background()

	job, err := f.orch.prepare(ctx, "/docs/report.txt", domain.DocumentMeta{ID: "doc-1"})
	require.NoError(t, err)
	assert.True(t, f.orch.Cancel("doc-1"))

	f.orch.run(ctx, job)

	stored, err := f.store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, ReasonCancelled, stored.FailureReason)
	assert.Zero(t, f.embedder.BatchCalls())
}

func TestIngest_ConcurrentDistinctFiles(t *testing.T) {
	f := newIngestFixture(t, threePageDocument()...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"doc-1", "doc-2", "doc-3", "doc-4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.orch.Ingest(ctx, "/docs/"+id+".txt", domain.DocumentMeta{ID: id})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	results, err := f.store.SimilaritySearch(ctx, []float32{1, 0, 0, 0}, 100, nil)
	require.NoError(t, err)
	assert.Len(t, results, 40)
}
