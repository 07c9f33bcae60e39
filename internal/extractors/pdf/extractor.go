// Package pdf extracts page text from PDF files.
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles PDF files with one segment per page.
// Layout is not recovered, so segments carry no bounding box.
type Extractor struct{}

// New creates a new PDF extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extensions returns the file extensions this extractor handles.
func (e *Extractor) Extensions() []string {
	return []string{".pdf"}
}

// Extract reads every page's plain text. Pages without text are skipped
// but still counted.
func (e *Extractor) Extract(ctx context.Context, path string) (segments []domain.Segment, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: err}
	}

	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = &domain.ExtractionError{Path: path, Err: fmt.Errorf("corrupt pdf: %v", r)}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer f.Close()

	numPages := reader.NumPage()
	segments = make([]domain.Segment, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &domain.ExtractionError{Path: path, Err: err}
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &domain.ExtractionError{Path: path, Err: fmt.Errorf("page %d: %w", i, err)}
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		segments = append(segments, domain.Segment{Text: text + "\n", PageNumber: i})
	}

	return segments, nil
}
