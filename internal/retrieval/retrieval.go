// Package retrieval implements the hybrid vector+lexical retrieval engine:
// parallel candidate generation, deduplication, context-aware merging,
// small-document coalescing, and reranking (the "8N strategy"). Grounded on
// the teacher's general "adapter returns typed results, engine merges" shape
// seen in internal/storage/qdrant.go's Search + scoredPointToChunk
// conversion pattern, and on golang.org/x/sync/errgroup for the parallel
// vector+keyword fan-out.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/embedding"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/rerank"
)

// ProcessedResult is an internal retrieval unit produced by merging one or
// more corpus chunks, surviving until the response is built.
type ProcessedResult struct {
	ID           string
	URL          string
	ContextLabel string
	Content      string
	MergedFrom   []string
	Length       int
}

// IsMerged reports whether this result coalesces more than one chunk —
// either via context merge or small-document merge — used by the tool
// executor to decide whether to add the "fetch full content" guidance line.
func (p ProcessedResult) IsMerged() bool {
	return len(p.MergedFrom) > 1
}

// RankedResult is a ProcessedResult placed by the reranker, carrying its
// relevance score.
type RankedResult struct {
	ProcessedResult
	Score float64
}

// AdditionalURL is a supporting, non-ranked result surfaced alongside the
// ranked list so the caller can describe its size without re-fetching it.
type AdditionalURL struct {
	URL    string
	Length int
}

// SearchResponse is the Hybrid Retrieval Engine's public contract result.
type SearchResponse struct {
	RankedResults  []RankedResult
	AdditionalURLs []AdditionalURL
}

// Engine orchestrates the corpus, embedding, and reranker clients.
type Engine struct {
	corpus   corpus.Store
	embedder embedding.Service
	reranker rerank.Client
	cfg      *config.RetrievalConfig
}

func NewEngine(store corpus.Store, embedder embedding.Service, reranker rerank.Client, cfg *config.RetrievalConfig) *Engine {
	return &Engine{corpus: store, embedder: embedder, reranker: reranker, cfg: cfg}
}

// Search runs the 8N strategy for one query, returning at most
// clamp(requestedResultCount, 1, 50) ranked results plus up to
// cfg.MaxAdditionalURLs supporting URLs (no cap when it is 0).
func (e *Engine) Search(ctx context.Context, query string, requestedResultCount int) (*SearchResponse, error) {
	n := clamp(requestedResultCount, 1, 50)
	k := 4 * n
	if limit := e.cfg.CandidateLimit; limit > 0 && k > limit {
		k = limit
	}

	vectorHits, keywordHits, err := e.fanOut(ctx, query, k)
	if err != nil {
		return nil, errtax.From(err).WithContext(ctx)
	}

	deduped := dedupeByChunkID(append(append([]corpus.SearchHit{}, vectorHits...), keywordHits...))
	merged := contextMerge(deduped)
	processed := smallDocMerge(merged, e.cfg.SmallDocThreshold)

	topN := n
	if topN > len(processed) {
		topN = len(processed)
	}

	docs := make([]rerank.Document, len(processed))
	for i, p := range processed {
		docs[i] = rerank.Document{Index: i, Text: p.Content}
	}

	rerankResults, err := e.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return nil, errtax.From(err).WithContext(ctx)
	}

	ranked := make([]RankedResult, 0, len(rerankResults))
	rankedIdx := make(map[int]bool, len(rerankResults))
	rankedURLs := make(map[string]bool, len(rerankResults))
	for _, r := range rerankResults {
		if r.Index < 0 || r.Index >= len(processed) {
			continue
		}
		ranked = append(ranked, RankedResult{ProcessedResult: processed[r.Index], Score: r.Score})
		rankedIdx[r.Index] = true
		rankedURLs[processed[r.Index].URL] = true
	}

	var additional []AdditionalURL
	seenURLs := make(map[string]bool, len(processed))
	maxAdditional := e.cfg.MaxAdditionalURLs
	for i, p := range processed {
		if rankedIdx[i] || rankedURLs[p.URL] || seenURLs[p.URL] {
			continue
		}
		seenURLs[p.URL] = true
		additional = append(additional, AdditionalURL{URL: p.URL, Length: p.Length})
		if maxAdditional > 0 && len(additional) >= maxAdditional {
			break
		}
	}

	return &SearchResponse{RankedResults: ranked, AdditionalURLs: additional}, nil
}

// fanOut embeds the query and issues vector_search/keyword_search in
// parallel, joining both or failing both — structured concurrency per §5's
// "join both or cancel both" guidance.
func (e *Engine) fanOut(ctx context.Context, query string, k int) ([]corpus.SearchHit, []corpus.SearchHit, error) {
	var vectorHits, keywordHits []corpus.SearchHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.embedder.GenerateEmbedding(gctx, query)
		if err != nil {
			return err
		}
		hits, err := e.corpus.VectorSearch(gctx, vec, k)
		if err != nil {
			return err
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.corpus.KeywordSearch(gctx, query, k)
		if err != nil {
			return err
		}
		keywordHits = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectorHits, keywordHits, nil
}

// dedupeByChunkID removes repeats, preserving first-seen order.
func dedupeByChunkID(hits []corpus.SearchHit) []corpus.SearchHit {
	seen := make(map[string]bool, len(hits))
	out := make([]corpus.SearchHit, 0, len(hits))
	for _, h := range hits {
		if seen[h.ChunkID] {
			continue
		}
		seen[h.ChunkID] = true
		out = append(out, h)
	}
	return out
}

// contextMerge groups hits by context label, joining inner content with the
// separator. The representative URL is the first entry's URL in each group;
// when the corpus violates the context→URL invariant, that first URL wins.
func contextMerge(hits []corpus.SearchHit) []ProcessedResult {
	type group struct {
		contextLabel string
		url          string
		contents     []string
		mergedFrom   []string
	}

	order := make([]string, 0, len(hits))
	groups := make(map[string]*group, len(hits))

	for _, h := range hits {
		g, ok := groups[h.ContextLabel]
		if !ok {
			g = &group{contextLabel: h.ContextLabel, url: h.URL}
			groups[h.ContextLabel] = g
			order = append(order, h.ContextLabel)
		}
		g.contents = append(g.contents, h.Content)
		g.mergedFrom = append(g.mergedFrom, h.ChunkID)
	}

	out := make([]ProcessedResult, 0, len(order))
	for _, label := range order {
		g := groups[label]
		content := strings.Join(g.contents, "\n\n---\n\n")
		out = append(out, ProcessedResult{
			ID:           g.mergedFrom[0],
			URL:          g.url,
			ContextLabel: g.contextLabel,
			Content:      content,
			MergedFrom:   g.mergedFrom,
			Length:       len(content),
		})
	}
	return out
}

// smallDocMerge splits results into large (>= threshold) and small buckets,
// then greedily packs ascending-sorted smalls into threshold-bounded
// batches, starting a new batch whenever the next element would overflow.
func smallDocMerge(results []ProcessedResult, threshold int) []ProcessedResult {
	var large, small []ProcessedResult
	for _, r := range results {
		if len(r.Content) >= threshold {
			large = append(large, r)
		} else {
			small = append(small, r)
		}
	}
	sort.SliceStable(small, func(i, j int) bool { return len(small[i].Content) < len(small[j].Content) })

	out := append([]ProcessedResult{}, large...)

	var batch []ProcessedResult
	batchLen := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if len(batch) == 1 {
			out = append(out, batch[0])
			batch = nil
			batchLen = 0
			return
		}
		var labels, contents, mergedFrom []string
		for _, b := range batch {
			if b.ContextLabel != "" {
				labels = append(labels, b.ContextLabel)
			}
			contents = append(contents, b.Content)
			mergedFrom = append(mergedFrom, b.MergedFrom...)
		}
		content := strings.Join(contents, "\n\n---\n\n")
		out = append(out, ProcessedResult{
			ID:           batch[0].ID,
			URL:          batch[0].URL,
			ContextLabel: "Merged: " + strings.Join(labels, " | "),
			Content:      content,
			MergedFrom:   mergedFrom,
			Length:       len(content),
		})
		batch = nil
		batchLen = 0
	}

	for _, s := range small {
		if batchLen > 0 && batchLen+len(s.Content) > threshold {
			flush()
		}
		batch = append(batch, s)
		batchLen += len(s.Content)
	}
	flush()

	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
