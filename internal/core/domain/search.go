package domain

// SearchOptions configures a retrieval query.
type SearchOptions struct {
	// Limit is the maximum number of results. Zero uses the configured default.
	Limit int

	// MinScore drops results scoring below it. Nil means no floor.
	MinScore *float64

	// DocumentIDs restricts the search to these documents when non-empty.
	DocumentIDs []string
}

// SearchFilter restricts a store similarity search.
type SearchFilter struct {
	DocumentIDs []string
}

// IsEmpty returns true if the filter matches every document.
func (f *SearchFilter) IsEmpty() bool {
	return f == nil || len(f.DocumentIDs) == 0
}

// ScoredChunk is a store similarity hit before metadata is attached.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// DocSearchResult is a ranked chunk with its owning document.
// Constructed per query and never persisted.
type DocSearchResult struct {
	Chunk    DocumentChunk `json:"chunk"`
	Score    float64       `json:"score"`
	Metadata DocumentMeta  `json:"metadata"`
}
