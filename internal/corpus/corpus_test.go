package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/errtax"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, cosineSimilarity(v, []float64{1, 0, 0}), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float64{1}))
}

func TestFakeVectorSearchOrdersBySimilarityExcludesMissingEmbeddings(t *testing.T) {
	f := NewFake()
	f.Chunks = []FakeChunk{
		{ChunkID: "c1", URL: "https://a", Content: "a", Embedding: []float32{1, 0}},
		{ChunkID: "c2", URL: "https://b", Content: "b", Embedding: []float32{0.9, 0.1}},
		{ChunkID: "c3", URL: "https://c", Content: "c", Embedding: nil},
	}

	hits, err := f.VectorSearch(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c2", hits[1].ChunkID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestFakeVectorSearchRespectsK(t *testing.T) {
	f := NewFake()
	for i := 0; i < 5; i++ {
		f.Chunks = append(f.Chunks, FakeChunk{ChunkID: string(rune('a' + i)), Embedding: []float32{1, 0}})
	}
	hits, err := f.VectorSearch(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestFakeKeywordSearchCaseInsensitiveSubstring(t *testing.T) {
	f := NewFake()
	f.Chunks = []FakeChunk{
		{ChunkID: "c1", Content: "The Quick Brown Fox"},
		{ChunkID: "c2", Content: "lazy dog"},
	}
	hits, err := f.KeywordSearch(context.Background(), "quick", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestFakeGetPageByURLNotFound(t *testing.T) {
	f := NewFake()
	_, err := f.GetPageByURL(context.Background(), "https://missing")
	require.Error(t, err)
	assert.Equal(t, errtax.KindNotFound, errtax.From(err).Kind)
}

func TestFakeGetPageByURLFound(t *testing.T) {
	f := NewFake()
	f.Pages["https://a"] = Page{ID: "p1", URL: "https://a", Content: "hello"}
	page, err := f.GetPageByURL(context.Background(), "https://a")
	require.NoError(t, err)
	assert.Equal(t, "hello", page.Content)
}
