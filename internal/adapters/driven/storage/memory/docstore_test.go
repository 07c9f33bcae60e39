package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func testMeta(id string, uploaded time.Time) domain.DocumentMeta {
	return domain.DocumentMeta{ID: id, Title: "Doc " + id, UploadDate: uploaded, Path: "/tmp/" + id + ".txt"}
}

func testChunks(docID string, vectors ...[]float32) []domain.DocumentChunk {
	out := make([]domain.DocumentChunk, len(vectors))
	for i, v := range vectors {
		out[i] = domain.DocumentChunk{
			ID:          fmt.Sprintf("%s-%d", docID, i),
			DocumentID:  docID,
			Text:        fmt.Sprintf("chunk %d of %s", i, docID),
			Vector:      v,
			PageNumber:  1,
			ChunkIndex:  i,
			TotalChunks: len(vectors),
		}
	}
	return out
}

func TestNewDocumentStore(t *testing.T) {
	store := NewDocumentStore(3)
	require.NotNil(t, store)
	assert.Equal(t, 3, store.Dimensions())
	assert.NoError(t, store.Close())
}

func TestDocumentStore_CreateDocument(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateDocument(ctx, testMeta("doc-1", now)))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexing, got.Status)

	err = store.CreateDocument(ctx, testMeta("doc-1", now))
	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)

	require.NoError(t, store.AddDocument(ctx, *got, testChunks("doc-1", []float32{1, 0})))
	err = store.CreateDocument(ctx, testMeta("doc-1", now))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.ErrorIs(t, store.CreateDocument(ctx, domain.DocumentMeta{}), domain.ErrInvalidInput)
}

func TestDocumentStore_CreateDocument_ReplacesFailed(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, testMeta("doc-1", time.Now())))
	require.NoError(t, store.MarkFailed(ctx, "doc-1", "boom"))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.FailureReason)

	require.NoError(t, store.CreateDocument(ctx, testMeta("doc-1", time.Now())))
	got, err = store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexing, got.Status)
	assert.Empty(t, got.FailureReason)
}

func TestDocumentStore_AddDocument_Atomic(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	meta := testMeta("doc-1", time.Now())
	require.NoError(t, store.CreateDocument(ctx, meta))

	// Second chunk has the wrong dimension: nothing may be written.
	bad := testChunks("doc-1", []float32{1, 0}, []float32{1, 0, 0})
	err := store.AddDocument(ctx, meta, bad)

	var writeErr *domain.StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	chunks, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusIndexed, got.Status)
}

func TestDocumentStore_AddDocument_InsertsAbsentMeta(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	require.NoError(t, store.AddDocument(ctx, testMeta("doc-1", time.Now()),
		testChunks("doc-1", []float32{1, 0}, []float32{0, 1})))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, got.Status)

	chunks, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 2, c.TotalChunks)
	}

	err = store.AddDocument(ctx, *got, testChunks("doc-1", []float32{1, 1}))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDocumentStore_AddDocument_AdoptsDimension(t *testing.T) {
	store := NewDocumentStore(0)
	ctx := context.Background()

	require.NoError(t, store.AddDocument(ctx, testMeta("a", time.Now()), testChunks("a", []float32{1, 0, 0})))
	assert.Equal(t, 3, store.Dimensions())

	err := store.AddDocument(ctx, testMeta("b", time.Now()), testChunks("b", []float32{1, 0}))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestDocumentStore_MarkFailed(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	assert.ErrorIs(t, store.MarkFailed(ctx, "missing", "x"), domain.ErrNotFound)

	require.NoError(t, store.AddDocument(ctx, testMeta("doc-1", time.Now()), testChunks("doc-1", []float32{1, 0})))
	assert.ErrorIs(t, store.MarkFailed(ctx, "doc-1", "x"), domain.ErrInvalidTransition)
}

func TestDocumentStore_DeleteDocument_Cascades(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	require.NoError(t, store.AddDocument(ctx, testMeta("doc-1", time.Now()),
		testChunks("doc-1", []float32{1, 0}, []float32{0.9, 0.1})))
	require.NoError(t, store.AddDocument(ctx, testMeta("doc-2", time.Now()),
		testChunks("doc-2", []float32{0.8, 0.2})))

	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))

	hits, err := store.SimilaritySearch(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "doc-1", h.Chunk.DocumentID)
	}
	assert.Len(t, hits, 1)

	// Second delete reports not found.
	assert.ErrorIs(t, store.DeleteDocument(ctx, "doc-1"), domain.ErrNotFound)
}

func TestDocumentStore_SimilaritySearch_Ranking(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	older := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	require.NoError(t, store.AddDocument(ctx, testMeta("old", older),
		testChunks("old", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, store.AddDocument(ctx, testMeta("new", newer),
		testChunks("new", []float32{2, 0}, []float32{1, 1})))

	hits, err := store.SimilaritySearch(ctx, []float32{1, 0}, 4, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	// Identical similarity: the newer document wins.
	assert.Equal(t, "new", hits[0].Chunk.DocumentID)
	assert.Equal(t, "old", hits[1].Chunk.DocumentID)
	assert.InDelta(t, hits[0].Score, hits[1].Score, 1e-12)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestDocumentStore_SimilaritySearch_Limit(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	// Scores against (1,0): 0.9, 0.7, 0.95, 0.3.
	vecs := [][]float32{
		{0.9, 0.43588989},
		{0.7, 0.71414284},
		{0.95, 0.31224990},
		{0.3, 0.95393920},
	}
	require.NoError(t, store.AddDocument(ctx, testMeta("doc", time.Now()), testChunks("doc", vecs...)))

	hits, err := store.SimilaritySearch(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.95, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.9, hits[1].Score, 1e-6)
}

func TestDocumentStore_SimilaritySearch_OnlyIndexed(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, testMeta("pending", time.Now())))
	require.NoError(t, store.AddDocument(ctx, testMeta("ready", time.Now()), testChunks("ready", []float32{1, 0})))

	hits, err := store.SimilaritySearch(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ready", hits[0].Chunk.DocumentID)
}

func TestDocumentStore_SimilaritySearch_Filter(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	require.NoError(t, store.AddDocument(ctx, testMeta("a", time.Now()), testChunks("a", []float32{1, 0})))
	require.NoError(t, store.AddDocument(ctx, testMeta("b", time.Now()), testChunks("b", []float32{1, 0})))

	hits, err := store.SimilaritySearch(ctx, []float32{1, 0}, 10, &domain.SearchFilter{DocumentIDs: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Chunk.DocumentID)
}

func TestDocumentStore_SimilaritySearch_DimensionMismatch(t *testing.T) {
	store := NewDocumentStore(2)
	_, err := store.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestDocumentStore_RejectsNonFiniteVectors(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	meta := testMeta("doc-1", time.Now())
	require.NoError(t, store.CreateDocument(ctx, meta))

	err := store.AddDocument(ctx, meta, testChunks("doc-1", []float32{1, 0}, []float32{float32(math.NaN()), 1}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	chunks, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = store.SimilaritySearch(ctx, []float32{float32(math.Inf(1)), 0}, 5, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDocumentStore_GetDocuments_And_List(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateDocument(ctx, testMeta(id, base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := store.GetDocuments(ctx, []string{"a", "c", "zzz"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.NotContains(t, got, "zzz")

	list, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestDocumentStore_PurgeStalled(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, testMeta("stuck", time.Now())))
	require.NoError(t, store.AddDocument(ctx, testMeta("done", time.Now()), testChunks("done", []float32{1, 0})))

	purged, err := store.PurgeStalled(ctx)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "stuck", purged[0].ID)

	_, err = store.GetDocument(ctx, "stuck")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetDocument(ctx, "done")
	assert.NoError(t, err)
}

func TestDocumentStore_ReturnsCopies(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()
	require.NoError(t, store.AddDocument(ctx, testMeta("a", time.Now()), testChunks("a", []float32{1, 0})))

	chunks, err := store.GetChunks(ctx, "a")
	require.NoError(t, err)
	chunks[0].Vector[0] = 42

	again, err := store.GetChunks(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, float32(1), again[0].Vector[0])
}

func TestDocumentStore_ConcurrentDocuments(t *testing.T) {
	store := NewDocumentStore(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("doc-%d", i)
			assert.NoError(t, store.CreateDocument(ctx, testMeta(id, time.Now())))
			assert.NoError(t, store.AddDocument(ctx, testMeta(id, time.Now()), testChunks(id, []float32{1, 0}, []float32{0, 1})))
		}(i)
	}
	wg.Wait()

	list, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
