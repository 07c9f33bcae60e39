package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/contract"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// maxBatchParams keeps IN lists below SQLite's variable limit.
const maxBatchParams = 500

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// CreateDocument records meta with status indexing.
func (s *documentStore) CreateDocument(ctx context.Context, meta domain.DocumentMeta) error {
	if meta.ID == "" {
		return fmt.Errorf("%w: document id required", domain.ErrInvalidInput)
	}
	unlock := s.store.writes.Lock(meta.ID)
	defer unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	status, found, err := documentStatus(ctx, tx, meta.ID)
	if err != nil {
		return err
	}
	if found {
		switch status {
		case domain.StatusIndexing:
			return fmt.Errorf("document %s: %w", meta.ID, domain.ErrIngestionInProgress)
		case domain.StatusIndexed:
			return fmt.Errorf("document %s: %w", meta.ID, domain.ErrAlreadyExists)
		}
		// A failed record is replaced; chunks go with it.
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", meta.ID); err != nil {
			return fmt.Errorf("replacing failed document: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, upload_date, status, path, failure_reason)
		VALUES (?, ?, ?, ?, ?, '')
	`, meta.ID, meta.Title, meta.UploadDate.UnixNano(), domain.StatusIndexing, meta.Path)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	return nil
}

// AddDocument atomically stores chunks and marks meta indexed.
func (s *documentStore) AddDocument(ctx context.Context, meta domain.DocumentMeta, chunks []domain.DocumentChunk) error {
	unlock := s.store.writes.Lock(meta.ID)
	defer unlock()

	if err := s.addDocument(ctx, meta, chunks); err != nil {
		var writeErr *domain.StoreWriteError
		if errors.As(err, &writeErr) {
			return err
		}
		return &domain.StoreWriteError{DocumentID: meta.ID, Err: err}
	}
	return nil
}

func (s *documentStore) addDocument(ctx context.Context, meta domain.DocumentMeta, chunks []domain.DocumentChunk) error {
	dim := s.store.dimensions()
	adopting := false
	if dim == 0 && len(chunks) > 0 {
		s.store.adoptMu.Lock()
		defer s.store.adoptMu.Unlock()
		if dim = s.store.dimensions(); dim == 0 {
			dim = len(chunks[0].Vector)
			adopting = true
		}
	}

	if err := contract.ValidateChunks(meta.ID, chunks, dim); err != nil {
		return err
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	status, found, err := documentStatus(ctx, tx, meta.ID)
	if err != nil {
		return err
	}
	if found {
		if !status.CanTransitionTo(domain.StatusIndexed) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, status, domain.StatusIndexed)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET title = ?, upload_date = ?, status = ?, path = ?, failure_reason = ''
			WHERE id = ?
		`, meta.Title, meta.UploadDate.UnixNano(), domain.StatusIndexed, meta.Path, meta.ID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, title, upload_date, status, path, failure_reason)
			VALUES (?, ?, ?, ?, ?, '')
		`, meta.ID, meta.Title, meta.UploadDate.UnixNano(), domain.StatusIndexed, meta.Path)
	}
	if err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", meta.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, text, vector, page_number, chunk_index, total_chunks, bbox, spans)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		bbox, err := marshalNullable(c.BBox)
		if err != nil {
			return err
		}
		spans, err := marshalNullable(c.Spans)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Text, float32SliceToBytes(c.Vector),
			c.PageNumber, c.ChunkIndex, c.TotalChunks, bbox, spans); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if adopting {
		if err := s.store.adoptDimensions(ctx, tx, dim); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	if adopting {
		s.store.setDimensions(dim)
	}
	return nil
}

// MarkFailed removes the document's chunks and moves it to failed.
func (s *documentStore) MarkFailed(ctx context.Context, id, reason string) error {
	unlock := s.store.writes.Lock(id)
	defer unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	status, found, err := documentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if !status.CanTransitionTo(domain.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, status, domain.StatusFailed)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET status = ?, failure_reason = ? WHERE id = ?",
		domain.StatusFailed, reason, id); err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing failure: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; chunks cascade.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	unlock := s.store.writes.Lock(id)
	defer unlock()

	res, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const documentColumns = "id, title, upload_date, status, path, failure_reason"

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.DocumentMeta, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	meta, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// GetDocuments retrieves documents by ID, batching the IN list.
func (s *documentStore) GetDocuments(ctx context.Context, ids []string) (map[string]domain.DocumentMeta, error) {
	out := make(map[string]domain.DocumentMeta, len(ids))
	for start := 0; start < len(ids); start += maxBatchParams {
		batch := ids[start:min(start+maxBatchParams, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := s.store.db.QueryContext(ctx,
			"SELECT "+documentColumns+" FROM documents WHERE id IN ("+placeholders(len(batch))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("querying documents: %w", err)
		}
		for rows.Next() {
			meta, err := scanDocument(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[meta.ID] = *meta
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating documents: %w", err)
		}
	}
	return out, nil
}

// ListDocuments returns every document, newest first.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.DocumentMeta, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY upload_date DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.DocumentMeta
	for rows.Next() {
		meta, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *meta)
	}
	return docs, rows.Err()
}

// GetChunks returns a document's chunks ordered by chunk index.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, text, vector, page_number, chunk_index, total_chunks, bbox, spans
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := scanChunk(rows, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SimilaritySearch scores every chunk of indexed documents against query
// and keeps the best limit.
func (s *documentStore) SimilaritySearch(
	ctx context.Context, query []float32, limit int, filter *domain.SearchFilter,
) ([]domain.ScoredChunk, error) {
	if err := contract.CheckQuery(query, s.store.dimensions()); err != nil {
		return nil, err
	}

	q := `
		SELECT c.id, c.document_id, c.text, c.vector, c.page_number, c.chunk_index, c.total_chunks,
		       c.bbox, c.spans, d.upload_date
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.status = ?`
	args := []any{domain.StatusIndexed}
	if !filter.IsEmpty() {
		q += " AND d.id IN (" + placeholders(len(filter.DocumentIDs)) + ")"
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	top := contract.NewTopK(limit)
	for rows.Next() {
		var c domain.DocumentChunk
		var uploaded int64
		if err := scanChunk(rows, &c, &uploaded); err != nil {
			return nil, err
		}
		if len(c.Vector) != len(query) {
			continue
		}
		top.Offer(contract.Candidate{
			Chunk:      c,
			Score:      contract.Cosine(query, c.Vector),
			UploadDate: time.Unix(0, uploaded).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return top.Results(), nil
}

// PurgeStalled deletes documents left in indexing.
func (s *documentStore) PurgeStalled(ctx context.Context) ([]domain.DocumentMeta, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE status = ? ORDER BY id", domain.StatusIndexing)
	if err != nil {
		return nil, fmt.Errorf("querying stalled documents: %w", err)
	}
	var stalled []domain.DocumentMeta
	for rows.Next() {
		meta, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stalled = append(stalled, *meta)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating stalled documents: %w", err)
	}

	var purged []domain.DocumentMeta
	for _, meta := range stalled {
		unlock := s.store.writes.Lock(meta.ID)
		res, err := s.store.db.ExecContext(ctx,
			"DELETE FROM documents WHERE id = ? AND status = ?", meta.ID, domain.StatusIndexing)
		unlock()
		if err != nil {
			return purged, fmt.Errorf("deleting stalled document %s: %w", meta.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			purged = append(purged, meta)
		}
	}
	return purged, nil
}

// Dimensions returns the store-wide vector dimension.
func (s *documentStore) Dimensions() int {
	return s.store.dimensions()
}

// Close closes the underlying database.
func (s *documentStore) Close() error {
	return s.store.Close()
}

// ==================== Scanning ====================

type scanner interface {
	Scan(dest ...any) error
}

func documentStatus(ctx context.Context, q queryer, id string) (domain.DocumentStatus, bool, error) {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading document status: %w", err)
	}
	return domain.DocumentStatus(status), true, nil
}

func scanDocument(row scanner) (*domain.DocumentMeta, error) {
	var meta domain.DocumentMeta
	var uploaded int64
	var status string
	if err := row.Scan(&meta.ID, &meta.Title, &uploaded, &status, &meta.Path, &meta.FailureReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	meta.UploadDate = time.Unix(0, uploaded).UTC()
	meta.Status = domain.DocumentStatus(status)
	return &meta, nil
}

// scanChunk scans the chunk columns followed by any extra destinations.
func scanChunk(row scanner, c *domain.DocumentChunk, extra ...any) error {
	var vector []byte
	var bbox, spans sql.NullString
	dest := append([]any{&c.ID, &c.DocumentID, &c.Text, &vector, &c.PageNumber,
		&c.ChunkIndex, &c.TotalChunks, &bbox, &spans}, extra...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("scanning chunk: %w", err)
	}
	c.Vector = bytesToFloat32Slice(vector)
	if bbox.Valid {
		if err := json.Unmarshal([]byte(bbox.String), &c.BBox); err != nil {
			return fmt.Errorf("decoding bbox: %w", err)
		}
	}
	if spans.Valid {
		if err := json.Unmarshal([]byte(spans.String), &c.Spans); err != nil {
			return fmt.Errorf("decoding spans: %w", err)
		}
	}
	return nil
}

// marshalNullable encodes v as JSON, or SQL NULL when v is nil or empty.
func marshalNullable(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *domain.BBox:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []domain.Span:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding json: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
