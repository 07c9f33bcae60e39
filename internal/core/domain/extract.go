package domain

// Segment is an ordered piece of raw text produced by an Extractor.
// A segment carrying a BBox is an atomic layout unit (a line or block);
// the chunker avoids splitting inside it.
type Segment struct {
	Text       string
	PageNumber int
	BBox       *BBox
}

// Passage is a chunk of text produced by the chunker, before embedding.
type Passage struct {
	// Text is the passage content.
	Text string

	// PageNumber is the page the passage starts on.
	PageNumber int

	// BBox is the union box on PageNumber, if layout was available.
	BBox *BBox

	// Spans lists every page the passage covers.
	Spans []Span

	// ChunkIndex is the zero-based position.
	ChunkIndex int

	// TotalChunks is the final number of passages.
	TotalChunks int

	// Start and End are rune offsets into the concatenated segment text.
	Start int
	End   int
}
