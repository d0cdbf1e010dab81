package embedding

import "context"

// Fake is an in-memory Service for tests: it derives a deterministic vector
// from each string's byte sum so equal inputs produce equal embeddings
// without any network dependency.
type Fake struct {
	Dim int
	Err error
}

func NewFake(dim int) *Fake {
	return &Fake{Dim: dim}
}

func (f *Fake) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

func (f *Fake) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *Fake) Dimensions() int {
	return f.Dim
}

func (f *Fake) vector(text string) []float32 {
	v := make([]float32, f.Dim)
	seed := float32(1)
	for _, b := range []byte(text) {
		seed += float32(b) / 255.0
	}
	v[0] = seed
	return normalize(v)
}
