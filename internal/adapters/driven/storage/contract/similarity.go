package contract

import (
	"container/heap"
	"math"
	"sort"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// Cosine returns the cosine similarity of a and b, or 0 when either has
// zero magnitude. Vectors must have equal length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a scored chunk with its document's upload date.
type Candidate struct {
	Chunk      domain.DocumentChunk
	Score      float64
	UploadDate time.Time
}

// RanksBefore reports whether a sorts ahead of b: higher score, then more
// recent upload, then lower chunk index, then document and chunk ID.
func RanksBefore(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.UploadDate.Equal(b.UploadDate) {
		return a.UploadDate.After(b.UploadDate)
	}
	if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	}
	return a.Chunk.ID < b.Chunk.ID
}

// TopK collects the best k candidates offered to it.
type TopK struct {
	k int
	h worstFirst
}

// NewTopK creates a collector keeping k candidates.
func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(worstFirst, 0, k)}
}

// Offer considers c for the result set.
func (t *TopK) Offer(c Candidate) {
	if t.k <= 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if RanksBefore(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// Results returns the kept candidates in rank order.
func (t *TopK) Results() []domain.ScoredChunk {
	sorted := make([]Candidate, len(t.h))
	copy(sorted, t.h)
	sort.Slice(sorted, func(i, j int) bool { return RanksBefore(sorted[i], sorted[j]) })

	out := make([]domain.ScoredChunk, len(sorted))
	for i, c := range sorted {
		out[i] = domain.ScoredChunk{Chunk: c.Chunk, Score: c.Score}
	}
	return out
}

// worstFirst is a heap whose root is the lowest-ranked candidate.
type worstFirst []Candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return RanksBefore(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(Candidate)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
