package domain

import "time"

// DocumentStatus is the indexing state of a document as persisted in the store.
// It is the authoritative answer to "did ingestion succeed".
type DocumentStatus string

// Document statuses.
const (
	// StatusIndexing is set the instant ingestion is requested.
	StatusIndexing DocumentStatus = "indexing"

	// StatusIndexed means all chunks were committed together with the metadata.
	StatusIndexed DocumentStatus = "indexed"

	// StatusFailed means the pipeline stopped and no chunks are stored.
	StatusFailed DocumentStatus = "failed"
)

// IsValid returns true if the status is recognised.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusIndexing, StatusIndexed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for indexed and failed.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// CanTransitionTo reports whether the status may move to next.
// Only indexing -> indexed and indexing -> failed are allowed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	return s == StatusIndexing && next.IsTerminal()
}

// String returns the string representation.
func (s DocumentStatus) String() string {
	return string(s)
}

// DocumentMeta represents one ingested source file.
type DocumentMeta struct {
	// ID is the stable identifier, caller-supplied or generated.
	ID string `json:"id"`

	// Title is the human-readable title.
	Title string `json:"title"`

	// UploadDate is when ingestion was requested.
	UploadDate time.Time `json:"uploadDate"`

	// Status is the indexing state.
	Status DocumentStatus `json:"status"`

	// Path is the source location. Optional once ingested.
	Path string `json:"path,omitempty"`

	// FailureReason is a human-readable reason for a failed document.
	FailureReason string `json:"failureReason,omitempty"`
}

// BBox is a layout rectangle used by the UI to highlight a passage.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	x0 := min(b.X, o.X)
	y0 := min(b.Y, o.Y)
	x1 := max(b.X+b.W, o.X+o.W)
	y1 := max(b.Y+b.H, o.Y+o.H)
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Span records one page a chunk covers, with the union of the layout boxes
// it touches on that page (nil when the extractor had no layout).
type Span struct {
	PageNumber int   `json:"pageNumber"`
	BBox       *BBox `json:"bbox,omitempty"`
}

// DocumentChunk is a searchable passage of a document.
// Chunks are created once text and vector are available and never mutated.
type DocumentChunk struct {
	// ID is the unique identifier for the chunk.
	ID string `json:"id"`

	// DocumentID links to the owning DocumentMeta.
	DocumentID string `json:"documentId"`

	// Text is the passage content.
	Text string `json:"text"`

	// Vector is the embedding. Its length equals the store dimension.
	Vector []float32 `json:"vector,omitempty"`

	// PageNumber is the page the passage starts on.
	PageNumber int `json:"pageNumber"`

	// ChunkIndex is the zero-based position within the document.
	ChunkIndex int `json:"chunkIndex"`

	// TotalChunks is the number of chunks of the owning document.
	TotalChunks int `json:"totalChunks"`

	// BBox is the layout box on PageNumber, if known.
	BBox *BBox `json:"bbox,omitempty"`

	// Spans lists every page the passage covers.
	Spans []Span `json:"spans,omitempty"`
}

// ValidPosition reports whether 0 <= ChunkIndex < TotalChunks.
func (c DocumentChunk) ValidPosition() bool {
	return c.ChunkIndex >= 0 && c.ChunkIndex < c.TotalChunks
}
