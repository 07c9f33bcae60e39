// Package contract holds the rules every DocumentStore implementation
// enforces: chunk validation, cosine scoring, deterministic ranking and
// per-document write serialisation.
package contract

import (
	"fmt"
	"math"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// ValidateChunks checks a document's chunks before they are written.
// dim is the store dimension; zero skips the length check.
func ValidateChunks(documentID string, chunks []domain.DocumentChunk, dim int) error {
	seen := make([]bool, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", domain.ErrInvalidInput, i)
		}
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %s belongs to %q, not %q",
				domain.ErrInvalidInput, c.ID, c.DocumentID, documentID)
		}
		if c.TotalChunks != len(chunks) {
			return fmt.Errorf("%w: chunk %s has totalChunks %d, document has %d chunks",
				domain.ErrInvalidInput, c.ID, c.TotalChunks, len(chunks))
		}
		if !c.ValidPosition() || seen[c.ChunkIndex] {
			return fmt.Errorf("%w: chunk %s has index %d", domain.ErrInvalidInput, c.ID, c.ChunkIndex)
		}
		seen[c.ChunkIndex] = true
		if len(c.Vector) == 0 {
			return fmt.Errorf("%w: chunk %s has no vector", domain.ErrInvalidInput, c.ID)
		}
		if dim > 0 && len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d",
				domain.ErrDimensionMismatch, c.ID, len(c.Vector), dim)
		}
		if i, ok := nonFinite(c.Vector); ok {
			return fmt.Errorf("%w: chunk %s has a non-finite component at %d",
				domain.ErrInvalidInput, c.ID, i)
		}
	}
	return nil
}

// CheckQuery validates a query vector against the store dimension.
func CheckQuery(query []float32, dim int) error {
	if len(query) == 0 {
		return fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if dim > 0 && len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, store has %d",
			domain.ErrDimensionMismatch, len(query), dim)
	}
	if i, ok := nonFinite(query); ok {
		return fmt.Errorf("%w: query has a non-finite component at %d", domain.ErrInvalidInput, i)
	}
	return nil
}

// nonFinite returns the index of the first NaN or infinite component.
func nonFinite(v []float32) (int, bool) {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i, true
		}
	}
	return 0, false
}
