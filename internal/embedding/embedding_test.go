package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/config"
)

func TestNewOpenAIServiceRequiresKey(t *testing.T) {
	cfg := &config.OpenAIConfig{EmbeddingModel: "text-embedding-3-small"}
	_, err := NewOpenAIService(cfg)
	require.Error(t, err)
}

func TestDimensionsFromModel(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"unknown-model", 1536},
	}
	for _, tc := range cases {
		cfg := &config.OpenAIConfig{APIKeys: []string{"sk-test"}, EmbeddingModel: tc.model}
		svc, err := NewOpenAIService(cfg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, svc.Dimensions())
	}
}

func TestDimensionsOverride(t *testing.T) {
	cfg := &config.OpenAIConfig{APIKeys: []string{"sk-test"}, EmbeddingModel: "text-embedding-3-small", Dimensions: 256}
	svc, err := NewOpenAIService(cfg)
	require.NoError(t, err)
	assert.Equal(t, 256, svc.Dimensions())
}

func TestNormalizeIsUnitLength(t *testing.T) {
	v := normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestFakeServiceDeterministic(t *testing.T) {
	f := NewFake(8)
	ctx := context.Background()

	a, err := f.GenerateEmbedding(ctx, "hello world")
	require.NoError(t, err)
	b, err := f.GenerateEmbedding(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := f.GenerateEmbedding(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFakeServiceBatchPreservesOrder(t *testing.T) {
	f := NewFake(4)
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	batch, err := f.GenerateBatchEmbeddings(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := f.GenerateEmbedding(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestFakeServicePropagatesError(t *testing.T) {
	f := &Fake{Dim: 4, Err: assert.AnError}
	_, err := f.GenerateEmbedding(context.Background(), "x")
	assert.ErrorIs(t, err, assert.AnError)
}
