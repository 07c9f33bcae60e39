// Package watch keeps the knowledge base in step with a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/connectors/filesystem"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// namespace scopes path-derived document IDs.
var namespace = uuid.MustParse("5f0c8a2e-8d9b-4c1e-9a57-3b1f2d6e7c40")

// Source lists and watches files.
type Source interface {
	Root() string
	Scan(ctx context.Context) ([]string, error)
	Watch(ctx context.Context) (<-chan filesystem.Change, error)
}

// Watcher applies directory changes to the knowledge base.
type Watcher struct {
	source    Source
	ingestion driving.IngestionService
	documents driving.DocumentService
	logger    *zap.Logger
}

// New creates a watcher.
func New(
	source Source,
	ingestion driving.IngestionService,
	documents driving.DocumentService,
	log *zap.Logger,
) *Watcher {
	return &Watcher{
		source:    source,
		ingestion: ingestion,
		documents: documents,
		logger:    logger.OrNop(log),
	}
}

// DocumentID returns the stable document ID for a file path.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(namespace, []byte(path)).String()
}

// Run queues files that are not yet indexed, then applies changes until ctx
// is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	// Subscribe before scanning so nothing created in between is missed.
	changes, err := w.source.Watch(ctx)
	if err != nil {
		return err
	}

	queued, err := w.Sync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	w.logger.Info("watching directory",
		zap.String("root", w.source.Root()),
		zap.Int("queued", queued))

	for ch := range changes {
		if err := w.Apply(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("apply change",
				zap.String("path", ch.Path),
				zap.String("change", string(ch.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// Sync queues every file under the root that is missing from the store or
// failed previously. It returns how many files were queued.
func (w *Watcher) Sync(ctx context.Context) (int, error) {
	files, err := w.source.Scan(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	var errs []error
	for _, path := range files {
		id := DocumentID(path)
		doc, err := w.documents.Get(ctx, id)
		switch {
		case err == nil && doc.Status != domain.StatusFailed:
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := w.add(ctx, id, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		queued++
	}
	return queued, errors.Join(errs...)
}

// Apply applies a single change.
func (w *Watcher) Apply(ctx context.Context, ch filesystem.Change) error {
	id := DocumentID(ch.Path)
	log := w.logger.With(zap.String("document_id", id), zap.String("path", ch.Path))

	// A modified file is re-ingested from scratch. Delete cancels any
	// ingestion still running for the old content.
	deleted, err := w.documents.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	if ch.Type == filesystem.ChangeDeleted {
		if deleted {
			log.Info("document removed")
		}
		return nil
	}

	if err := w.add(ctx, id, ch.Path); err != nil {
		return err
	}
	log.Info("document queued", zap.String("change", string(ch.Type)), zap.Bool("replaced", deleted))
	return nil
}

func (w *Watcher) add(ctx context.Context, id, path string) error {
	_, err := w.ingestion.AddDocument(ctx, path, domain.DocumentMeta{ID: id})
	return err
}
