package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/embedding"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/ratelimit"
	"docsearch-mcp/internal/rerank"
	"docsearch-mcp/internal/retrieval"
)

func newTestExecutor(t *testing.T) (*Executor, *corpus.Fake, *identity.Fake, *ratelimit.Fake) {
	t.Helper()
	store := corpus.NewFake()
	store.Chunks = append(store.Chunks, corpus.FakeChunk{
		ChunkID: "c1", URL: "https://docs.example.com/swiftui/navigation", ContextLabel: "Navigation",
		Content: "SwiftUI navigation guide content", Embedding: []float32{1, 0},
	})
	store.Pages["https://docs.example.com/swiftui/navigation"] = corpus.Page{
		ID: "p1", URL: "https://docs.example.com/swiftui/navigation", Content: "full page content",
	}

	idStore := identity.NewFake()
	limiter := ratelimit.NewFake()
	cfg := config.DefaultConfig()
	engine := retrieval.NewEngine(store, embedding.NewFake(2), rerank.NewFake(), &cfg.Retrieval)

	return NewExecutor(engine, store, idStore, limiter, cfg.RateLimit, &cfg.Retrieval), store, idStore, limiter
}

func anonIdentity(key string) *identity.Identity {
	return &identity.Identity{Authenticated: false, Key: key}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)
	_, err := e.Search(context.Background(), anonIdentity("1.2.3.4"), map[string]interface{}{"query": "   "})
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}

func TestSearchRejectsOverlongQuery(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)
	long := make([]byte, 10001)
	for i := range long {
		long[i] = 'a'
	}
	_, err := e.Search(context.Background(), anonIdentity("1.2.3.4"), map[string]interface{}{"query": string(long)})
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}

func TestSearchReturnsFormattedResults(t *testing.T) {
	e, _, idStore, _ := newTestExecutor(t)
	result, err := e.Search(context.Background(), anonIdentity("1.2.3.4"), map[string]interface{}{"query": "navigation"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "[1]")
	assert.Contains(t, result.Content[0].Text, "Sign up for a free account")
	require.Len(t, idStore.SearchLogs, 1)
	assert.Equal(t, "navigation", idStore.SearchLogs[0].Query)
}

func TestSearchOmitsClosingLineForAuthenticated(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)
	id := &identity.Identity{Authenticated: true, UserID: "u1", Plan: "pro", Key: "user:u1"}
	result, err := e.Search(context.Background(), id, map[string]interface{}{"query": "navigation"})
	require.NoError(t, err)
	assert.NotContains(t, result.Content[0].Text, "Sign up for a free account")
}

func TestSearchSurfacesRateLimitAsSuccess(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)
	id := anonIdentity("9.9.9.9")

	var sawRateLimitMessage bool
	for i := 0; i < 50 && !sawRateLimitMessage; i++ {
		result, err := e.Search(context.Background(), id, map[string]interface{}{"query": "navigation"})
		require.NoError(t, err, "rate limiting must surface as a successful result, not an error")
		text := result.Content[0].Text
		if strings.Contains(text, "too quickly") || strings.Contains(text, "weekly search quota") {
			sawRateLimitMessage = true
		}
	}
	assert.True(t, sawRateLimitMessage, "expected a rate-limit message within 50 calls")
}

func TestClampResultCountSchemaDeclared(t *testing.T) {
	got, clamped := clampResultCount(30, 10)
	assert.Equal(t, 10, got)
	assert.True(t, clamped)

	got, clamped = clampResultCount(5, 10)
	assert.Equal(t, 5, got)
	assert.False(t, clamped)

	got, clamped = clampResultCount(0, 10)
	assert.Equal(t, 1, got)
	assert.True(t, clamped)
}

func TestFetchReturnsPageContent(t *testing.T) {
	e, _, idStore, _ := newTestExecutor(t)
	result, err := e.Fetch(context.Background(), anonIdentity("1.2.3.4"), map[string]interface{}{"url": "https://docs.example.com/swiftui/navigation"})
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, "full page content")
	require.Len(t, idStore.FetchLogs, 1)
	assert.Equal(t, "ok", idStore.FetchLogs[0].Status)
}

func TestFetchNotFoundReturnsNotFoundError(t *testing.T) {
	e, _, idStore, _ := newTestExecutor(t)
	_, err := e.Fetch(context.Background(), anonIdentity("1.2.3.4"), map[string]interface{}{"url": "https://docs.example.com/missing"})
	require.Error(t, err)
	assert.Equal(t, errtax.KindNotFound, errtax.From(err).Kind)
	require.Len(t, idStore.FetchLogs, 1)
	assert.Equal(t, "not_found", idStore.FetchLogs[0].Status)
}

func TestNormalizeURLConvertsYoutuBe(t *testing.T) {
	out, err := normalizeURL("https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", out)
}

func TestNormalizeURLStripsQueryForNonYouTube(t *testing.T) {
	out, err := normalizeURL("https://Docs.Example.com/page/?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/page", out)
}

func TestNormalizeURLRejectsOverlong(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 200)
	_, err := normalizeURL(long)
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}

func TestNormalizeURLRejectsDuplicatedScheme(t *testing.T) {
	_, err := normalizeURL("https://example.com/https://evil.com")
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}

func TestNormalizeURLRejectsMissingSchemeOrHost(t *testing.T) {
	_, err := normalizeURL("not-a-url")
	require.Error(t, err)
	assert.Equal(t, errtax.KindInvalidArgument, errtax.From(err).Kind)
}
