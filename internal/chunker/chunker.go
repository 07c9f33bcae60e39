// Package chunker splits extracted text into bounded, overlapping passages
// that carry page and layout provenance.
package chunker

import (
	"strings"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = domain.DefaultChunkSize

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = domain.DefaultOverlap

// Verify interface compliance.
var _ driven.Chunker = (*Chunker)(nil)

// Chunker splits segment text into fixed-size windows of runes.
// Each window after the first starts overlap runes before the previous
// window ended, so dropping the first overlap runes of every later passage
// and concatenating reproduces the input exactly.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Overlap must stay below half the window so backing off to a unit
	// boundary still makes progress.
	if 2*c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}

	return c
}

// FromConfig creates a chunker from typed settings.
func FromConfig(cfg domain.ChunkerConfig) *Chunker {
	return New(WithChunkSize(cfg.ChunkSize), WithOverlap(cfg.Overlap))
}

// ChunkSize returns the effective chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the effective overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// unit is a segment positioned in the concatenated rune text.
type unit struct {
	start, end int
	page       int
	bbox       *domain.BBox
}

// Chunk splits the concatenated segment text into passages.
// Empty or whitespace-only input produces no passages.
func (c *Chunker) Chunk(segments []domain.Segment) []domain.Passage {
	var sb strings.Builder
	units := make([]unit, 0, len(segments))
	pos := 0
	for _, seg := range segments {
		n := len([]rune(seg.Text))
		if n == 0 {
			continue
		}
		sb.WriteString(seg.Text)
		units = append(units, unit{start: pos, end: pos + n, page: seg.PageNumber, bbox: seg.BBox})
		pos += n
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	total := len(runes)

	// A backed-off window must still be longer than the overlap.
	minKeep := c.chunkSize / 2
	if minKeep <= c.overlap {
		minKeep = c.overlap + 1
	}

	step := c.chunkSize - c.overlap
	passages := make([]domain.Passage, 0, (total+step-1)/step)

	start := 0
	for {
		end := start + c.chunkSize
		if end >= total {
			end = total
		} else if u, ok := atomicUnitAt(units, end); ok && u.start-start >= minKeep {
			end = u.start
		}

		spans := spansFor(units, start, end)
		p := domain.Passage{
			Text:  string(runes[start:end]),
			Spans: spans,
			Start: start,
			End:   end,
		}
		if len(spans) > 0 {
			p.PageNumber = spans[0].PageNumber
			p.BBox = spans[0].BBox
		}
		passages = append(passages, p)

		if end >= total {
			break
		}
		start = end - c.overlap
	}

	for i := range passages {
		passages[i].ChunkIndex = i
		passages[i].TotalChunks = len(passages)
	}

	return passages
}

// atomicUnitAt returns the layout unit that offset falls strictly inside.
func atomicUnitAt(units []unit, offset int) (unit, bool) {
	for _, u := range units {
		if u.start >= offset {
			break
		}
		if u.bbox != nil && u.start < offset && offset < u.end {
			return u, true
		}
	}
	return unit{}, false
}

// spansFor groups the units touching [start, end) by page, in order of
// first appearance, with the union of their boxes on each page.
func spansFor(units []unit, start, end int) []domain.Span {
	var spans []domain.Span
	index := make(map[int]int)
	for _, u := range units {
		if u.end <= start {
			continue
		}
		if u.start >= end {
			break
		}
		i, ok := index[u.page]
		if !ok {
			index[u.page] = len(spans)
			spans = append(spans, domain.Span{PageNumber: u.page})
			i = len(spans) - 1
		}
		if u.bbox != nil {
			if spans[i].BBox == nil {
				b := *u.bbox
				spans[i].BBox = &b
			} else {
				b := spans[i].BBox.Union(*u.bbox)
				spans[i].BBox = &b
			}
		}
	}
	return spans
}
