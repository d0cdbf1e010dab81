package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := &config.RerankConfig{
		BaseURL:        srv.URL,
		Model:          "rerank-english-v3.0",
		RequestTimeout: 5,
	}
	return NewHTTPClient(cfg), srv.Close
}

func TestRerankEmptyDocsShortCircuits(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the API with no documents")
	})
	defer closeFn()

	results, err := c.Rerank(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRerankMapsIndicesAndScores(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query", req.Query)
		assert.Len(t, req.Documents, 2)
		assert.Equal(t, 2, req.TopN)

		resp := rerankResponse{Results: []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}{
			{Index: 1, RelevanceScore: 0.9},
			{Index: 0, RelevanceScore: 0.4},
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	defer closeFn()

	docs := []Document{
		{Index: 100, Text: "first"},
		{Index: 200, Text: "second"},
	}
	results, err := c.Rerank(context.Background(), "query", docs, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 200, results[0].Index)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 100, results[1].Index)
}

func TestRerankClampsTopNToDocCount(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.TopN)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rerankResponse{}))
	})
	defer closeFn()

	_, err := c.Rerank(context.Background(), "q", []Document{{Index: 0, Text: "x"}}, 50)
	require.NoError(t, err)
}

func TestRerankUnauthorizedIsInvalidCredential(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	})
	defer closeFn()

	_, err := c.Rerank(context.Background(), "q", []Document{{Index: 0, Text: "x"}}, 1)
	require.Error(t, err)
	e := errtax.From(err)
	assert.Equal(t, errtax.KindInvalidCredential, e.Kind)
}

func TestRerankServerErrorRetriesThenFails(t *testing.T) {
	calls := 0
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer closeFn()

	_, err := c.Rerank(context.Background(), "q", []Document{{Index: 0, Text: "x"}}, 1)
	require.Error(t, err)
	e := errtax.From(err)
	assert.Equal(t, errtax.KindTransientUpstream, e.Kind)
	assert.Equal(t, 3, calls)
}
