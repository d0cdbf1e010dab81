// Package rerank calls a cross-encoder reranking API to reorder retrieval
// candidates by relevance to the original query. It has no teacher
// counterpart; its retry and error-classification shape is adapted from
// internal/embedding, the other outbound-HTTP client in this repo.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/retry"
)

// Document is one candidate passed to the reranker, identified by its
// position in the caller's slice so results can be mapped back.
type Document struct {
	Index int
	Text  string
}

// Result is a reranked document: Index refers back into the original
// Document slice, Score is the cross-encoder relevance score.
type Result struct {
	Index int
	Score float64
}

// Client reranks candidate documents against a query, returning at most topN
// results.
type Client interface {
	Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error)
}

// HTTPClient implements Client against a Cohere-compatible POST /rerank
// endpoint.
type HTTPClient struct {
	httpClient *http.Client
	cfg        *config.RerankConfig
	retrier    *retry.Retrier
}

func NewHTTPClient(cfg *config.RerankConfig) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{},
		cfg:        cfg,
		retrier: retry.New(&retry.Config{
			MaxAttempts:     3,
			InitialDelay:    0,
			MaxDelay:        0,
			Multiplier:      1.0,
			RandomizeFactor: 0,
			RetryIf:         isRetryable,
		}),
	}
}

func isRetryable(err error) bool {
	e := errtax.From(err)
	return e != nil && e.Kind == errtax.KindTransientUpstream
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends all docs to the reranking endpoint and returns at most topN
// Results sorted by descending score. topN is clamped to len(docs) before the
// request is built. Two additional attempts (no backoff delay) are made on
// transient upstream failure before giving up.
func (c *HTTPClient) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topN > len(docs) || topN <= 0 {
		topN = len(docs)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	var results []Result
	result := c.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := c.call(ctx, query, texts, topN)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	if result.Err != nil {
		return nil, errtax.From(result.Err).WithContext(ctx)
	}

	// Map the API's positional index back onto the caller's Document.Index.
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{Index: docs[r.Index].Index, Score: r.Score}
	}
	return out, nil
}

func (c *HTTPClient) call(ctx context.Context, query string, texts []string, topN int) ([]Result, error) {
	timeout := time.Duration(c.cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, errtax.Internal("rerank", fmt.Errorf("encode request: %w", err))
	}

	url := c.cfg.BaseURL + "/rerank"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errtax.Internal("rerank", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errtax.TransientUpstream("rerank", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errtax.TransientUpstream("rerank", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errtax.InvalidCredential("rerank", string(respBody))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, errtax.InvalidArgument(string(respBody))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errtax.TransientUpstream("rerank", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode != http.StatusOK:
		return nil, errtax.Internal("rerank", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errtax.Internal("rerank", fmt.Errorf("decode response: %w", err))
	}

	out := make([]Result, len(parsed.Results))
	for i, r := range parsed.Results {
		out[i] = Result{Index: r.Index, Score: r.RelevanceScore}
	}
	return out, nil
}
