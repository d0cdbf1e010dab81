// Package corpus adapts the externally-populated document corpus (chunks
// and pages) to the hybrid retrieval engine: vector similarity search,
// case-insensitive substring search, and URL-keyed page lookup. The corpus
// is read-only from this system's perspective — ingestion and embedding
// precomputation happen elsewhere.
package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/logging"
)

// SearchHit is one row returned by either search path. Similarity is only
// meaningful for vector search results; keyword search leaves it at zero.
type SearchHit struct {
	ChunkID      string
	URL          string
	ContextLabel string
	Content      string
	Similarity   float64
}

// Page is the full canonical document keyed by URL.
type Page struct {
	ID      string
	URL     string
	Content string
}

// Store is the corpus adapter's interface, satisfied by Postgres in
// production and by Fake in tests.
type Store interface {
	VectorSearch(ctx context.Context, queryVector []float32, k int) ([]SearchHit, error)
	KeywordSearch(ctx context.Context, queryText string, k int) ([]SearchHit, error)
	GetPageByURL(ctx context.Context, url string) (*Page, error)
}

// storeMetrics counts adapter calls and failures, mirroring the teacher's
// metrics-carrying storage adapter.
type storeMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{counters: make(map[string]int64)}
}

func (m *storeMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// Snapshot returns a copy of the current counters, for diagnostics.
func (m *storeMetrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// PostgresStore is the production corpus adapter. Vector search reads every
// embedded chunk row and ranks it in Go rather than relying on a pgvector
// operator being installed; this trades scan cost for zero extension
// dependency, and the Store interface hides the choice from callers.
type PostgresStore struct {
	db      *sql.DB
	cfg     *config.DatabaseConfig
	metrics *storeMetrics
}

func NewPostgresStore(db *sql.DB, cfg *config.DatabaseConfig) *PostgresStore {
	return &PostgresStore{db: db, cfg: cfg, metrics: newStoreMetrics()}
}

// Open dials Postgres using cfg and applies the pool tuning from
// internal/config, mirroring the teacher's connection-pool setup.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("corpus: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return db, nil
}

func (s *PostgresStore) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// VectorSearch ranks chunks with a non-null embedding by
// 1 - cosine_distance(embedding, queryVector), descending, returning the
// top k. Ties keep storage order because the SQL prefetch is ordered by id.
func (s *PostgresStore) VectorSearch(ctx context.Context, queryVector []float32, k int) ([]SearchHit, error) {
	s.metrics.inc("vector_search.calls")
	start := time.Now()
	defer func() { s.logSlow("vector_search", start) }()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(qctx, `
		SELECT chunk_id, url, context_label, content, embedding
		FROM corpus_chunks
		WHERE embedding IS NOT NULL
		ORDER BY chunk_id`)
	if err != nil {
		s.metrics.inc("vector_search.errors")
		return nil, errtax.TransientUpstream("corpus", fmt.Errorf("vector_search query: %w", err))
	}
	defer rows.Close()

	var candidates []scoredHit
	for rows.Next() {
		var (
			chunkID, url, contextLabel, content string
			embedding                            pq.Float64Array
		)
		if err := rows.Scan(&chunkID, &url, &contextLabel, &content, &embedding); err != nil {
			s.metrics.inc("vector_search.errors")
			return nil, errtax.Internal("corpus", fmt.Errorf("vector_search scan: %w", err))
		}
		sim := cosineSimilarity(queryVector, embedding)
		candidates = append(candidates, scoredHit{
			hit:   SearchHit{ChunkID: chunkID, URL: url, ContextLabel: contextLabel, Content: content},
			score: sim,
		})
	}
	if err := rows.Err(); err != nil {
		s.metrics.inc("vector_search.errors")
		return nil, errtax.TransientUpstream("corpus", fmt.Errorf("vector_search rows: %w", err))
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

// KeywordSearch returns chunks whose content contains queryText,
// case-insensitively, ordered deterministically by chunk id.
func (s *PostgresStore) KeywordSearch(ctx context.Context, queryText string, k int) ([]SearchHit, error) {
	s.metrics.inc("keyword_search.calls")
	start := time.Now()
	defer func() { s.logSlow("keyword_search", start) }()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(qctx, `
		SELECT chunk_id, url, context_label, content
		FROM corpus_chunks
		WHERE content ILIKE '%' || $1 || '%'
		ORDER BY chunk_id
		LIMIT $2`, queryText, k)
	if err != nil {
		s.metrics.inc("keyword_search.errors")
		return nil, errtax.TransientUpstream("corpus", fmt.Errorf("keyword_search query: %w", err))
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ChunkID, &hit.URL, &hit.ContextLabel, &hit.Content); err != nil {
			s.metrics.inc("keyword_search.errors")
			return nil, errtax.Internal("corpus", fmt.Errorf("keyword_search scan: %w", err))
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		s.metrics.inc("keyword_search.errors")
		return nil, errtax.TransientUpstream("corpus", fmt.Errorf("keyword_search rows: %w", err))
	}
	return out, nil
}

// GetPageByURL returns the canonical page for url, or a NotFound error.
func (s *PostgresStore) GetPageByURL(ctx context.Context, url string) (*Page, error) {
	s.metrics.inc("get_page_by_url.calls")

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var page Page
	err := s.db.QueryRowContext(qctx, `
		SELECT page_id, url, content FROM corpus_pages WHERE url = $1`, url,
	).Scan(&page.ID, &page.URL, &page.Content)

	switch {
	case err == sql.ErrNoRows:
		s.metrics.inc("get_page_by_url.not_found")
		return nil, errtax.NotFound("page")
	case err != nil:
		s.metrics.inc("get_page_by_url.errors")
		return nil, errtax.TransientUpstream("corpus", fmt.Errorf("get_page_by_url: %w", err))
	}
	return &page, nil
}

func (s *PostgresStore) logSlow(op string, start time.Time) {
	elapsed := time.Since(start)
	if s.cfg.SlowQueryThreshold > 0 && elapsed > s.cfg.SlowQueryThreshold {
		logging.DatabaseLogger.LogSlowOperation(op, elapsed, s.cfg.SlowQueryThreshold)
	}
}

func cosineSimilarity(a []float32, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		dot += av * b[i]
		normA += av * av
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scoredHit struct {
	hit   SearchHit
	score float64
}

// isSubstringFold reports whether substr occurs in s, case-insensitively.
// Used by the Fake store to mirror the ILIKE semantics without SQL.
func isSubstringFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
