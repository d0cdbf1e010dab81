package corpus

import (
	"context"
	"sort"

	"docsearch-mcp/internal/errtax"
)

// FakeChunk is a corpus row as seeded into Fake.
type FakeChunk struct {
	ChunkID      string
	URL          string
	ContextLabel string
	Content      string
	Embedding    []float32
}

// Fake is an in-memory Store for tests, computing the same ranking rules as
// PostgresStore without a database.
type Fake struct {
	Chunks []FakeChunk
	Pages  map[string]Page
}

func NewFake() *Fake {
	return &Fake{Pages: make(map[string]Page)}
}

func (f *Fake) VectorSearch(_ context.Context, queryVector []float32, k int) ([]SearchHit, error) {
	var candidates []scoredHit
	for _, c := range f.Chunks {
		if c.Embedding == nil {
			continue
		}
		sim := cosineSimilarityF32(queryVector, c.Embedding)
		candidates = append(candidates, scoredHit{
			hit:   SearchHit{ChunkID: c.ChunkID, URL: c.URL, ContextLabel: c.ContextLabel, Content: c.Content},
			score: sim,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]SearchHit, k)
	for i := 0; i < k; i++ {
		hit := candidates[i].hit
		hit.Similarity = candidates[i].score
		out[i] = hit
	}
	return out, nil
}

func (f *Fake) KeywordSearch(_ context.Context, queryText string, k int) ([]SearchHit, error) {
	var out []SearchHit
	for _, c := range f.Chunks {
		if !isSubstringFold(c.Content, queryText) {
			continue
		}
		out = append(out, SearchHit{ChunkID: c.ChunkID, URL: c.URL, ContextLabel: c.ContextLabel, Content: c.Content})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *Fake) GetPageByURL(_ context.Context, url string) (*Page, error) {
	if p, ok := f.Pages[url]; ok {
		return &p, nil
	}
	return nil, errtax.NotFound("page")
}

func cosineSimilarityF32(a, b []float32) float64 {
	a64 := make([]float64, len(b))
	for i, v := range b {
		a64[i] = float64(v)
	}
	return cosineSimilarity(a, a64)
}
