// Package markdown extracts readable text from Markdown files.
package markdown

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/extractors/plaintext"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles Markdown files. Formatting is stripped and form feeds
// separate pages, as in plain text.
type Extractor struct{}

// New creates a new Markdown extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extensions returns the file extensions this extractor handles.
func (e *Extractor) Extensions() []string {
	return []string{".md", ".markdown"}
}

// Extract reads the file and returns one segment per non-blank page.
func (e *Extractor) Extract(ctx context.Context, path string) ([]domain.Segment, error) {
	text, err := plaintext.ReadText(ctx, path)
	if err != nil {
		return nil, err
	}

	segments := plaintext.Segments(text)
	out := segments[:0]
	for _, seg := range segments {
		stripped := Strip(seg.Text)
		if stripped == "" {
			continue
		}
		seg.Text = stripped + "\n"
		out = append(out, seg)
	}
	return out, nil
}

// Pre-compiled regular expressions for Markdown stripping.
var (
	codeFence    = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	inlineCode   = regexp.MustCompile("`([^`\n]+)`")
	images       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headings     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis     = regexp.MustCompile(`\*([^*\n]+)\*`)
	blockquote   = regexp.MustCompile(`(?m)^>\s?`)
	rule         = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	listMarkers  = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	numberedList = regexp.MustCompile(`(?m)^(\s*)\d+\.\s+`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	newlines     = regexp.MustCompile(`\n{3,}`)
)

// Strip removes common Markdown syntax. Code block contents are kept,
// only the fences are dropped.
func Strip(content string) string {
	content = htmlComments.ReplaceAllString(content, "")
	content = codeFence.ReplaceAllString(content, "")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = headings.ReplaceAllString(content, "")
	content = rule.ReplaceAllString(content, "")

	content = strings.ReplaceAll(content, "**", "")
	content = strings.ReplaceAll(content, "__", "")
	content = emphasis.ReplaceAllString(content, "$1")

	content = blockquote.ReplaceAllString(content, "")
	content = listMarkers.ReplaceAllString(content, "$1")
	content = numberedList.ReplaceAllString(content, "$1")
	content = newlines.ReplaceAllString(content, "\n\n")

	return strings.TrimSpace(content)
}
