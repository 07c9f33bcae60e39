package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure IngestionOrchestrator implements the interface.
var _ driving.IngestionService = (*IngestionOrchestrator)(nil)

// ReasonCancelled is the failure reason stored for cancelled ingestions.
const ReasonCancelled = "cancelled"

// chunkNamespace seeds deterministic chunk IDs.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kbase:chunk"))

// ChunkID returns the stable ID of a document's chunk.
func ChunkID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", documentID, chunkIndex))).String()
}

// IngestionOrchestrator drives files through Extractor -> Chunker ->
// Embedder -> Store on a bounded worker pool.
//
// Each file runs its stages strictly in order on one goroutine, so its
// progress events are published in stage order. Cancellation is
// cooperative: it is observed before parsing, between embedding batches
// and before storing, never inside a single embedder call.
type IngestionOrchestrator struct {
	store      driven.DocumentStore
	extractors driven.ExtractorRegistry
	chunker    driven.Chunker
	embedder   driven.EmbeddingService
	progress   driven.ProgressPublisher
	cfg        domain.IngestConfig
	retry      RetryConfig
	logger     *zap.Logger
	now        func() time.Time

	// inflight tracks files between AddDocument and their terminal state.
	mu       sync.Mutex
	inflight map[string]*ingestJob

	// runMu guards the queue against Stop closing it mid-send.
	runMu   sync.RWMutex
	queue   chan *ingestJob
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewIngestionOrchestrator creates a new ingestion orchestrator.
// progress may be nil, in which case events are discarded.
func NewIngestionOrchestrator(
	store driven.DocumentStore,
	extractors driven.ExtractorRegistry,
	chunker driven.Chunker,
	embedder driven.EmbeddingService,
	progress driven.ProgressPublisher,
	cfg domain.IngestConfig,
	log *zap.Logger,
) *IngestionOrchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = domain.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = domain.DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = domain.DefaultQueueSize
	}
	return &IngestionOrchestrator{
		store:      store,
		extractors: extractors,
		chunker:    chunker,
		embedder:   embedder,
		progress:   progress,
		cfg:        cfg,
		retry:      RetryConfigFrom(cfg),
		logger:     logger.OrNop(log),
		now:        time.Now,
		inflight:   make(map[string]*ingestJob),
	}
}

// ingestJob is the orchestrator-owned state of one file.
type ingestJob struct {
	path string
	meta domain.DocumentMeta

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	state     domain.IngestionState
	embedded  int
	total     int
	startedAt time.Time
	reason    string
	err       error

	// stage timing for ETR and metrics
	stage      domain.Stage
	stageStart time.Time
}

func newIngestJob(path string, meta domain.DocumentMeta, now time.Time) *ingestJob {
	return &ingestJob{
		path:      path,
		meta:      meta,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     domain.StateQueued,
		startedAt: now,
	}
}

func (j *ingestJob) cancel() {
	j.cancelOnce.Do(func() { close(j.cancelCh) })
}

func (j *ingestJob) cancelled(ctx context.Context) bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (j *ingestJob) transition(next domain.IngestionState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.CanTransitionTo(next) {
		return false
	}
	j.state = next
	return true
}

func (j *ingestJob) snapshot() domain.IngestionStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return domain.IngestionStatus{
		FileID:    j.meta.ID,
		State:     j.state,
		Embedded:  j.embedded,
		Total:     j.total,
		StartedAt: j.startedAt,
		Reason:    j.reason,
	}
}

// Start launches the worker pool. Calling Start twice is a no-op.
func (o *IngestionOrchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.stopped {
		return domain.ErrQueueClosed
	}
	if o.started {
		return nil
	}

	o.queue = make(chan *ingestJob, o.cfg.QueueSize)
	o.started = true

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}

	o.logger.Debug("ingestion workers started",
		zap.Int("workers", o.cfg.Workers),
		zap.Int("queue_size", o.cfg.QueueSize))
	return nil
}

// Stop stops accepting work, lets workers drain the queue, and waits.
func (o *IngestionOrchestrator) Stop() {
	o.runMu.Lock()
	if !o.started || o.stopped {
		o.stopped = true
		o.runMu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.runMu.Unlock()

	o.wg.Wait()
}

func (o *IngestionOrchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for job := range o.queue {
		metrics.IngestionQueueDepth.Dec()
		o.run(ctx, job)
	}
}

// AddDocument records the document as indexing, publishes the starting
// event and queues the file for a worker.
func (o *IngestionOrchestrator) AddDocument(
	ctx context.Context, path string, meta domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	o.runMu.RLock()
	defer o.runMu.RUnlock()
	if !o.started || o.stopped {
		return domain.DocumentMeta{}, domain.ErrQueueClosed
	}

	job, err := o.prepare(ctx, path, meta)
	if err != nil {
		return domain.DocumentMeta{}, err
	}

	metrics.IngestionQueueDepth.Inc()
	select {
	case o.queue <- job:
		return job.meta, nil
	case <-ctx.Done():
		metrics.IngestionQueueDepth.Dec()
		o.fail(ctx, job, ReasonCancelled, ctx.Err())
		o.release(job)
		return domain.DocumentMeta{}, fmt.Errorf("enqueue %s: %w", job.meta.ID, ctx.Err())
	}
}

// AddDocuments queues a batch of files. Each file is independent.
func (o *IngestionOrchestrator) AddDocuments(
	ctx context.Context, reqs []driving.IngestRequest,
) ([]domain.DocumentMeta, error) {
	metas := make([]domain.DocumentMeta, 0, len(reqs))
	var errs []error
	for _, req := range reqs {
		meta, err := o.AddDocument(ctx, req.Path, req.Meta)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", req.Path, err))
			continue
		}
		metas = append(metas, meta)
	}
	return metas, errors.Join(errs...)
}

// Ingest runs the whole pipeline for one file on the calling goroutine and
// returns the terminal error, if any. It does not need Start.
func (o *IngestionOrchestrator) Ingest(
	ctx context.Context, path string, meta domain.DocumentMeta,
) (domain.DocumentMeta, error) {
	job, err := o.prepare(ctx, path, meta)
	if err != nil {
		return domain.DocumentMeta{}, err
	}
	o.run(ctx, job)

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.meta, job.err
}

// prepare validates and defaults meta, registers the job and creates the
// indexing record.
func (o *IngestionOrchestrator) prepare(
	ctx context.Context, path string, meta domain.DocumentMeta,
) (*ingestJob, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: file path required", domain.ErrInvalidInput)
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if meta.UploadDate.IsZero() {
		meta.UploadDate = o.now()
	}
	meta.Status = domain.StatusIndexing
	meta.Path = path
	meta.FailureReason = ""

	job := newIngestJob(path, meta, o.now())

	o.mu.Lock()
	if _, busy := o.inflight[meta.ID]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("document %s: %w", meta.ID, domain.ErrIngestionInProgress)
	}
	o.inflight[meta.ID] = job
	o.mu.Unlock()

	if err := o.store.CreateDocument(ctx, meta); err != nil {
		o.release(job)
		return nil, fmt.Errorf("create document %s: %w", meta.ID, err)
	}

	o.logger.Info("ingestion requested",
		zap.String("file_id", meta.ID),
		zap.String("path", path))
	o.publish(job, domain.StageStarting, 0, 0, "")
	return job, nil
}

// release removes the job from the in-flight table and wakes waiters.
func (o *IngestionOrchestrator) release(job *ingestJob) {
	o.mu.Lock()
	if o.inflight[job.meta.ID] == job {
		delete(o.inflight, job.meta.ID)
	}
	o.mu.Unlock()
	close(job.done)
}

// Cancel asks an in-flight ingestion to stop at its next checkpoint.
func (o *IngestionOrchestrator) Cancel(id string) bool {
	o.mu.Lock()
	job, ok := o.inflight[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	o.logger.Info("ingestion cancel requested", zap.String("file_id", id))
	return true
}

// Wait blocks until the file's pipeline has finished.
func (o *IngestionOrchestrator) Wait(ctx context.Context, id string) error {
	o.mu.Lock()
	job, ok := o.inflight[id]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of an in-flight ingestion.
func (o *IngestionOrchestrator) Status(id string) (domain.IngestionStatus, bool) {
	o.mu.Lock()
	job, ok := o.inflight[id]
	o.mu.Unlock()
	if !ok {
		return domain.IngestionStatus{}, false
	}
	return job.snapshot(), true
}

// run executes the pipeline for one job and always leaves it terminal.
func (o *IngestionOrchestrator) run(ctx context.Context, job *ingestJob) {
	defer o.release(job)

	log := o.logger.With(zap.String("file_id", job.meta.ID))

	if job.cancelled(ctx) {
		o.fail(ctx, job, ReasonCancelled, domain.ErrCancelled)
		return
	}

	// Parsing
	job.transition(domain.StateParsing)
	o.publish(job, domain.StageParsing, 0, 1, "")
	segments, err := o.extract(ctx, job)
	if err != nil {
		log.Warn("extraction failed", zap.String("path", job.path), zap.Error(err))
		o.fail(ctx, job, err.Error(), err)
		return
	}
	o.publish(job, domain.StageParsing, 1, 1, "")

	passages := o.chunker.Chunk(segments)
	log.Debug("document chunked",
		zap.Int("segments", len(segments)),
		zap.Int("chunks", len(passages)))

	// Vectorizing
	job.transition(domain.StateVectorizing)
	job.mu.Lock()
	job.total = len(passages)
	job.mu.Unlock()
	o.publish(job, domain.StageVectorizing, 0, len(passages), "")

	vectors, err := o.vectorize(ctx, job, passages, log)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			o.fail(ctx, job, ReasonCancelled, err)
			return
		}
		o.fail(ctx, job, err.Error(), err)
		return
	}

	if job.cancelled(ctx) {
		o.fail(ctx, job, ReasonCancelled, domain.ErrCancelled)
		return
	}

	// Storing
	job.transition(domain.StateStoring)
	o.publish(job, domain.StageStoring, 0, 1, "")

	chunks := make([]domain.DocumentChunk, len(passages))
	for i, p := range passages {
		chunks[i] = domain.DocumentChunk{
			ID:          ChunkID(job.meta.ID, p.ChunkIndex),
			DocumentID:  job.meta.ID,
			Text:        p.Text,
			Vector:      vectors[i],
			PageNumber:  p.PageNumber,
			ChunkIndex:  p.ChunkIndex,
			TotalChunks: p.TotalChunks,
			BBox:        p.BBox,
			Spans:       p.Spans,
		}
	}

	if err := o.store.AddDocument(ctx, job.meta, chunks); err != nil {
		var writeErr *domain.StoreWriteError
		if !errors.As(err, &writeErr) {
			err = &domain.StoreWriteError{DocumentID: job.meta.ID, Err: err}
		}
		log.Error("store write failed", zap.Error(err))
		o.fail(ctx, job, err.Error(), err)
		return
	}

	job.transition(domain.StateIndexed)
	job.mu.Lock()
	job.meta.Status = domain.StatusIndexed
	job.mu.Unlock()

	o.publish(job, domain.StageDone, 1, 1, "")
	metrics.DocumentsTotal.WithLabelValues(string(domain.StatusIndexed)).Inc()
	log.Info("document indexed",
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", o.now().Sub(job.startedAt)))
}

// extract runs the extractor under the configured timeout.
func (o *IngestionOrchestrator) extract(ctx context.Context, job *ingestJob) ([]domain.Segment, error) {
	ex, err := o.extractors.For(job.path)
	if err != nil {
		return nil, asExtractionError(job.path, err)
	}

	extractCtx := ctx
	if t := o.cfg.ExtractTimeout.Duration; t > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	segments, err := ex.Extract(extractCtx, job.path)
	if err != nil {
		return nil, asExtractionError(job.path, err)
	}
	return segments, nil
}

func asExtractionError(path string, err error) error {
	var extErr *domain.ExtractionError
	if errors.As(err, &extErr) {
		return err
	}
	return &domain.ExtractionError{Path: path, Err: err}
}

// vectorize embeds passages in batches with retry. No vector leaves this
// function unless every batch succeeded.
func (o *IngestionOrchestrator) vectorize(
	ctx context.Context, job *ingestJob, passages []domain.Passage, log *zap.Logger,
) ([][]float32, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if o.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}

	vectors := make([][]float32, 0, len(passages))
	batchSize := o.cfg.BatchSize

	for start := 0; start < len(passages); start += batchSize {
		if job.cancelled(ctx) {
			return nil, domain.ErrCancelled
		}

		end := min(start+batchSize, len(passages))
		texts := make([]string, end-start)
		for i, p := range passages[start:end] {
			texts[i] = p.Text
		}
		batch := start / batchSize

		out, err := withRetry(ctx, o.retry, job.cancelCh,
			func(attemptCtx context.Context) ([][]float32, error) {
				vecs, err := o.embedder.EmbedBatch(attemptCtx, texts)
				if err != nil {
					return nil, err
				}
				if len(vecs) != len(texts) {
					return nil, &domain.EmbeddingError{
						Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)),
					}
				}
				return vecs, nil
			},
			func(retry int, delay time.Duration, err error) {
				metrics.EmbeddingRetriesTotal.Inc()
				log.Warn("embedding batch failed, retrying",
					zap.Int("batch", batch),
					zap.Int("attempt", retry+1),
					zap.Duration("delay", delay),
					zap.Error(err))
			},
		)
		if err != nil {
			var exhausted *RetriesExhaustedError
			switch {
			case errors.Is(err, errStopped):
				return nil, domain.ErrCancelled
			case errors.As(err, &exhausted):
				log.Error("embedding retries exhausted",
					zap.Int("batch", batch),
					zap.Int("attempts", exhausted.Attempts),
					zap.Error(exhausted.Err))
				return nil, fmt.Errorf("embed batch %d: %w", batch, err)
			case ctx.Err() != nil:
				return nil, domain.ErrCancelled
			default:
				return nil, fmt.Errorf("embed batch %d: %w", batch, err)
			}
		}

		vectors = append(vectors, out...)

		job.mu.Lock()
		job.embedded = len(vectors)
		job.mu.Unlock()
		o.publish(job, domain.StageVectorizing, len(vectors), len(passages), "")
	}

	return vectors, nil
}

// fail removes partial state and marks the document failed. The store is
// updated before the error event is published.
func (o *IngestionOrchestrator) fail(ctx context.Context, job *ingestJob, reason string, cause error) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := o.store.MarkFailed(cleanupCtx, job.meta.ID, reason); err != nil {
		o.logger.Error("mark document failed",
			zap.String("file_id", job.meta.ID),
			zap.Error(err))
	}

	job.transition(domain.StateFailed)
	job.mu.Lock()
	job.reason = reason
	job.err = cause
	job.meta.Status = domain.StatusFailed
	job.meta.FailureReason = reason
	job.mu.Unlock()

	o.publish(job, domain.StageError, 0, 0, reason)

	status := string(domain.StatusFailed)
	if reason == ReasonCancelled {
		status = ReasonCancelled
	}
	metrics.DocumentsTotal.WithLabelValues(status).Inc()
	o.logger.Info("ingestion failed",
		zap.String("file_id", job.meta.ID),
		zap.String("reason", reason))
}

// publish emits a progress event. ETR is computed from the time spent in
// the current stage only and is a best-effort estimate.
func (o *IngestionOrchestrator) publish(job *ingestJob, stage domain.Stage, current, total int, reason string) {
	now := o.now()

	job.mu.Lock()
	if job.stage != stage {
		if job.stage != "" && !job.stageStart.IsZero() {
			metrics.StageDuration.WithLabelValues(job.stage.String()).Observe(now.Sub(job.stageStart).Seconds())
		}
		job.stage = stage
		job.stageStart = now
	}
	etr := domain.EstimateRemaining(now.Sub(job.stageStart), current, total)
	job.mu.Unlock()

	if o.progress == nil {
		return
	}
	o.progress.Publish(domain.IngestionProgress{
		FileID:    job.meta.ID,
		Stage:     stage,
		Current:   current,
		Total:     total,
		ETR:       etr,
		Reason:    reason,
		Timestamp: now,
	})
}
