package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates a file type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = fmt.Errorf("%w: empty query", ErrInvalidInput)

	// Store Errors.

	// ErrDimensionMismatch indicates a vector whose length differs from the store dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// Ingestion Errors.

	// ErrIngestionInProgress indicates the document is already being ingested.
	ErrIngestionInProgress = errors.New("ingestion in progress")

	// ErrCancelled indicates ingestion was cancelled by the caller.
	ErrCancelled = errors.New("cancelled")

	// ErrQueueClosed indicates the orchestrator is not accepting work.
	ErrQueueClosed = errors.New("ingestion queue closed")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// ExtractionError reports an unreadable, unsupported or corrupt file.
// It is terminal for the file and never retried.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedder failure.
// Transient errors (timeout, rate limit, server errors) are retried with
// backoff; permanent ones fail the file immediately.
type EmbeddingError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *EmbeddingError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding (%s): %v", kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed document write. The write was rolled back.
type StoreWriteError struct {
	DocumentID string
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.DocumentID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// SearchEmbeddingError reports that the query could not be embedded.
// Callers receive no results alongside it.
type SearchEmbeddingError struct {
	Err error
}

func (e *SearchEmbeddingError) Error() string {
	return fmt.Sprintf("search: embed query: %v", e.Err)
}

func (e *SearchEmbeddingError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
// Transient embedding errors and deadline expiry qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
