// Package docx extracts paragraphs from Office Open XML word documents.
package docx

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

const (
	documentPart = "word/document.xml"

	// maxDocumentSize bounds the decompressed document part.
	maxDocumentSize = 256 << 20
)

// ErrMissingDocument is returned when the archive has no document part.
var ErrMissingDocument = errors.New("docx: missing " + documentPart)

// Extractor handles DOCX files. Each paragraph becomes a segment and
// explicit page breaks advance the page number.
type Extractor struct{}

// New creates a new DOCX extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extensions returns the file extensions this extractor handles.
func (e *Extractor) Extensions() []string {
	return []string{".docx"}
}

// Extract opens the archive and parses the main document part.
func (e *Extractor) Extract(ctx context.Context, path string) ([]domain.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: err}
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: fmt.Errorf("open archive: %w", err)}
	}
	defer zr.Close()

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return nil, &domain.ExtractionError{Path: path, Err: ErrMissingDocument}
	}

	rc, err := part.Open()
	if err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: err}
	}
	defer rc.Close()

	segments, err := parseDocument(ctx, io.LimitReader(rc, maxDocumentSize))
	if err != nil {
		return nil, &domain.ExtractionError{Path: path, Err: err}
	}
	return segments, nil
}

// parseDocument streams document.xml. Text is taken from w:t inside runs;
// w:br with type page and w:pageBreakBefore start a new page. Fallback
// branches of alternate content are skipped so text boxes are not doubled.
func parseDocument(ctx context.Context, r io.Reader) ([]domain.Segment, error) {
	dec := xml.NewDecoder(r)

	var (
		segments []domain.Segment
		buf      strings.Builder
		paraDep  int
		runDep   int
		inText   bool
	)
	page := 1

	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text != "" {
			segments = append(segments, domain.Segment{Text: text + "\n", PageNumber: page})
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Fallback":
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("parse %s: %w", documentPart, err)
				}
			case "p":
				paraDep++
			case "r":
				runDep++
			case "t":
				inText = runDep > 0
			case "tab":
				if runDep > 0 {
					buf.WriteByte('\t')
				}
			case "br", "cr":
				if runDep == 0 {
					break
				}
				if attr(t, "type") == "page" {
					flush()
					page++
				} else {
					buf.WriteByte('\n')
				}
			case "pageBreakBefore":
				if enabled(t) && len(segments) > 0 {
					flush()
					page++
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				runDep--
			case "p":
				paraDep--
				if paraDep == 0 {
					flush()
					if err := ctx.Err(); err != nil {
						return nil, err
					}
				}
			}

		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}

	flush()
	return segments, nil
}

// attr returns the value of the attribute with the given local name.
func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// enabled reports whether an on/off property is set; absent w:val means on.
func enabled(el xml.StartElement) bool {
	switch attr(el, "val") {
	case "0", "false", "off":
		return false
	}
	return true
}
