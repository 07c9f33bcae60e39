// Package plaintext extracts UTF-8 text files. A form feed separates pages.
package plaintext

import (
	"context"
	"os"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// PageBreak separates pages in plain text files.
const PageBreak = "\f"

// Extractor handles plain text files.
type Extractor struct{}

// New creates a new plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extensions returns the file extensions this extractor handles.
func (e *Extractor) Extensions() []string {
	return []string{".txt", ".text", ".log", ".csv"}
}

// Extract reads the file and returns one segment per non-blank page.
func (e *Extractor) Extract(ctx context.Context, path string) ([]domain.Segment, error) {
	text, err := ReadText(ctx, path)
	if err != nil {
		return nil, err
	}
	return Segments(text), nil
}

// ReadText reads path as text, replacing invalid UTF-8 sequences.
func ReadText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// Segments splits text into pages on form feeds. Page numbers start at 1
// and count blank pages, which produce no segment. Each segment ends with a
// newline so pages stay separated once concatenated.
func Segments(text string) []domain.Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pages := strings.Split(text, PageBreak)

	segments := make([]domain.Segment, 0, len(pages))
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		if !strings.HasSuffix(page, "\n") {
			page += "\n"
		}
		segments = append(segments, domain.Segment{Text: page, PageNumber: i + 1})
	}
	return segments
}
