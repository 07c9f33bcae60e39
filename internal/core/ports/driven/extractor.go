package driven

import (
	"context"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// Extractor turns a file into ordered raw text segments tagged with page
// numbers and, when layout is known, bounding boxes.
// Failures are returned as *domain.ExtractionError.
type Extractor interface {
	// Extensions returns the lower-case file extensions handled, with dot.
	Extensions() []string

	// Extract reads the file at path.
	Extract(ctx context.Context, path string) ([]domain.Segment, error)
}

// ExtractorRegistry selects an Extractor for a file.
type ExtractorRegistry interface {
	// Register adds an extractor for its extensions, replacing earlier ones.
	Register(e Extractor)

	// For returns the extractor for path or an error wrapping
	// domain.ErrUnsupportedType.
	For(path string) (Extractor, error)

	// Supported reports whether path has a registered extension.
	Supported(path string) bool
}

// Chunker splits extracted segments into overlapping passages.
// Implementations are pure and deterministic.
type Chunker interface {
	Chunk(segments []domain.Segment) []domain.Passage
}
