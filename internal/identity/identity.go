// Package identity adapts the token/IP/plan/log store backing auth
// resolution, rate-limit plan lookup, and usage logging. It is Postgres-
// backed in production, grounded on internal/security/auth.go's
// UserStore/SessionStore interface-segregation style and on
// cmd/migrate/main.go's schema-per-table approach (pre-adaptation).
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"docsearch-mcp/internal/audit"
	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/logging"
)

// Identity is who is making the request: either an authenticated user (via
// token or authorized IP) or an anonymous caller keyed by client IP.
type Identity struct {
	Authenticated bool
	UserID        string
	Email         string
	DisplayName   string
	Plan          string
	// Token carries the literal bearer token for a token-authenticated
	// identity, the sentinel "ip-based" for an IP-bound one, or "" for an
	// anonymous identity — for downstream logging consistency.
	Token string
	// Key is the rate-limit/cache partition key: "user:<id>" for
	// authenticated identities, the raw client IP for anonymous ones.
	Key string
}

// SearchLogEntry is one usage record for the search tool.
type SearchLogEntry struct {
	IdentityKey string
	Token       string
	Query       string
	ResultCount int
	LatencyMS   int64
	Status      string
	Error       string
	IP          string
}

// FetchLogEntry is one usage record for the fetch tool.
type FetchLogEntry struct {
	IdentityKey  string
	Token        string
	RequestedURL string
	ActualURL    string
	PageID       string
	LatencyMS    int64
	Status       string
	Error        string
	IP           string
}

// Store is the identity adapter's interface, satisfied by PostgresStore in
// production and Fake in tests.
type Store interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	ResolveIP(ctx context.Context, ip string) (*Identity, error)
	LogSearch(ctx context.Context, entry SearchLogEntry)
	LogFetch(ctx context.Context, entry FetchLogEntry)
	Close() error
}

type cacheEntry struct {
	identity Identity
	cachedAt time.Time
}

// PostgresStore is the production identity adapter. Best-effort last-used
// timestamp updates and log writes are pushed onto a bounded queue
// (internal/audit) drained by a small worker pool, never a goroutine per
// call, per the "bounded work queue with drop-on-overflow" design note.
type PostgresStore struct {
	db      *sql.DB
	cfg     *config.IdentityConfig
	cache   *lru.Cache[string, cacheEntry]
	queue   *audit.Queue
	tokenRe *regexp.Regexp
}

func NewPostgresStore(db *sql.DB, cfg *config.IdentityConfig) (*PostgresStore, error) {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 5000
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: cache init: %w", err)
	}

	prefix := cfg.TokenPrefix
	if prefix == "" {
		prefix = "at_"
	}
	tokenRe, err := regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `[a-f0-9]{32}$`)
	if err != nil {
		return nil, fmt.Errorf("identity: compile token format: %w", err)
	}

	queue := audit.NewQueue(cfg.AsyncQueueSize, cfg.AsyncWorkers, logging.IdentityLogger)
	queue.Start(context.Background())

	return &PostgresStore{db: db, cfg: cfg, cache: cache, queue: queue, tokenRe: tokenRe}, nil
}

func (s *PostgresStore) cacheFresh(entry cacheEntry) bool {
	ttl := s.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return time.Since(entry.cachedAt) < ttl
}

// ValidateToken checks the token's format, then the cache, then Postgres.
// On success it schedules a best-effort last-used bump that never blocks or
// fails the caller.
func (s *PostgresStore) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	if !s.tokenRe.MatchString(token) {
		return nil, errtax.InvalidArgument("token format invalid").WithContext(ctx)
	}

	cacheKey := "token:" + token
	if entry, ok := s.cache.Get(cacheKey); ok && s.cacheFresh(entry) {
		id := entry.identity
		s.scheduleTokenLastUsed(token)
		return &id, nil
	}

	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id Identity
	err := s.db.QueryRowContext(qctx, `
		SELECT u.user_id, u.email, u.display_name, COALESCE(sub.plan_tier, 'free')
		FROM identity_tokens t
		JOIN identity_users u ON u.user_id = t.user_id
		LEFT JOIN identity_subscriptions sub ON sub.user_id = u.user_id
		WHERE t.token = $1`, token,
	).Scan(&id.UserID, &id.Email, &id.DisplayName, &id.Plan)

	switch {
	case err == sql.ErrNoRows:
		return nil, errtax.NotFound("token").WithContext(ctx)
	case err != nil:
		return nil, errtax.TransientUpstream("identity", err).WithContext(ctx)
	}

	id.Authenticated = true
	id.Token = token
	id.Key = "user:" + id.UserID

	s.cache.Add(cacheKey, cacheEntry{identity: id, cachedAt: time.Now()})
	s.scheduleTokenLastUsed(token)
	return &id, nil
}

// ResolveIP mirrors ValidateToken for the authorized-IP path: the success
// identity carries the "ip-based" sentinel token.
func (s *PostgresStore) ResolveIP(ctx context.Context, ip string) (*Identity, error) {
	cacheKey := "ip:" + ip
	if entry, ok := s.cache.Get(cacheKey); ok && s.cacheFresh(entry) {
		id := entry.identity
		s.scheduleIPLastUsed(ip)
		return &id, nil
	}

	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id Identity
	err := s.db.QueryRowContext(qctx, `
		SELECT u.user_id, u.email, u.display_name, COALESCE(sub.plan_tier, 'free')
		FROM identity_authorized_ips a
		JOIN identity_users u ON u.user_id = a.user_id
		LEFT JOIN identity_subscriptions sub ON sub.user_id = u.user_id
		WHERE a.ip = $1`, ip,
	).Scan(&id.UserID, &id.Email, &id.DisplayName, &id.Plan)

	switch {
	case err == sql.ErrNoRows:
		return nil, errtax.NotFound("authorized ip").WithContext(ctx)
	case err != nil:
		return nil, errtax.TransientUpstream("identity", err).WithContext(ctx)
	}

	id.Authenticated = true
	id.Token = "ip-based"
	id.Key = "user:" + id.UserID

	s.cache.Add(cacheKey, cacheEntry{identity: id, cachedAt: time.Now()})
	s.scheduleIPLastUsed(ip)
	return &id, nil
}

func (s *PostgresStore) scheduleTokenLastUsed(token string) {
	if !s.queue.Enqueue(func(ctx context.Context) {
		qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(qctx, `UPDATE identity_tokens SET last_used_at = now() WHERE token = $1`, token)
	}) {
		logging.IdentityLogger.Warn("last-used update dropped, queue full", "kind", "token")
	}
}

func (s *PostgresStore) scheduleIPLastUsed(ip string) {
	if !s.queue.Enqueue(func(ctx context.Context) {
		qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(qctx, `UPDATE identity_authorized_ips SET last_used_at = now() WHERE ip = $1`, ip)
	}) {
		logging.IdentityLogger.Warn("last-used update dropped, queue full", "kind", "ip")
	}
}

// LogSearch enqueues a best-effort usage record. It never blocks the caller
// and never surfaces a write failure.
func (s *PostgresStore) LogSearch(ctx context.Context, entry SearchLogEntry) {
	if !s.queue.Enqueue(func(jobCtx context.Context) {
		qctx, cancel := context.WithTimeout(jobCtx, 5*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(qctx, `
			INSERT INTO log_search (identity_key, token, query, result_count, latency_ms, status, error, ip, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			entry.IdentityKey, nullIfEmpty(entry.Token), entry.Query, entry.ResultCount,
			entry.LatencyMS, entry.Status, nullIfEmpty(entry.Error), entry.IP)
	}) {
		logging.IdentityLogger.WithContext(ctx).Warn("log_search dropped, queue full")
	}
}

// LogFetch enqueues a best-effort usage record for the fetch tool.
func (s *PostgresStore) LogFetch(ctx context.Context, entry FetchLogEntry) {
	if !s.queue.Enqueue(func(jobCtx context.Context) {
		qctx, cancel := context.WithTimeout(jobCtx, 5*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(qctx, `
			INSERT INTO log_fetch (identity_key, token, requested_url, actual_url, page_id, latency_ms, status, error, ip, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
			entry.IdentityKey, nullIfEmpty(entry.Token), entry.RequestedURL, entry.ActualURL, entry.PageID,
			entry.LatencyMS, entry.Status, nullIfEmpty(entry.Error), entry.IP)
	}) {
		logging.IdentityLogger.WithContext(ctx).Warn("log_fetch dropped, queue full")
	}
}

// Close drains the async queue and waits for its workers to exit. The
// underlying *sql.DB is owned by the caller (see internal/corpus.Open) and
// is not closed here.
func (s *PostgresStore) Close() error {
	s.queue.Close()
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
