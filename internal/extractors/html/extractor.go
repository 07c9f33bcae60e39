// Package html extracts readable text from HTML files.
package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/extractors/plaintext"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles HTML documents. The whole file is a single page.
type Extractor struct{}

// New creates a new HTML extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extensions returns the file extensions this extractor handles.
func (e *Extractor) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

// Extract reads the file and returns its visible text as one segment.
func (e *Extractor) Extract(ctx context.Context, path string) ([]domain.Segment, error) {
	raw, err := plaintext.ReadText(ctx, path)
	if err != nil {
		return nil, err
	}

	text := Strip(raw)
	if text == "" {
		return nil, nil
	}
	return []domain.Segment{{Text: text + "\n", PageNumber: 1}}, nil
}

// Pre-compiled regular expressions for HTML parsing performance.
var (
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t]+`)
)

// Strip removes markup and returns readable text, one block per line.
func Strip(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	content = openBlockElements.ReplaceAllString(content, "\n")
	content = blockElements.ReplaceAllString(content, "\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n")

	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = strings.ReplaceAll(content, "\u00a0", " ")
	content = multiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	result := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
