// Package tools implements the two tool executors exposed over tools/call:
// search (hybrid retrieval) and fetch (canonical page lookup). Grounded on
// internal/mcp/executor.go's ExecuteTool-via-tools/call indirection
// (pre-adaptation) for how a tool call flows into the rest of the system,
// and on the teacher's plain-text response formatting conventions.
package tools

import (
	"context"
	"strings"
	"time"

	"docsearch-mcp/internal/authn"
	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/protocol"
	"docsearch-mcp/internal/ratelimit"
	"docsearch-mcp/internal/retrieval"
)

const separator = "────────────────────────────────────────────────────────────────────────────────"

// defaultResultCount is used when the caller omits result_count.
const defaultResultCount = 5

// Executor runs the search and fetch tools against the wired backends.
type Executor struct {
	engine   *retrieval.Engine
	corpus   corpus.Store
	identity identity.Store
	limiter  ratelimit.Checker
	rlCfg    config.RateLimitConfig
	retrCfg  *config.RetrievalConfig
}

func NewExecutor(engine *retrieval.Engine, corpusStore corpus.Store, identityStore identity.Store, limiter ratelimit.Checker, rlCfg config.RateLimitConfig, retrCfg *config.RetrievalConfig) *Executor {
	return &Executor{engine: engine, corpus: corpusStore, identity: identityStore, limiter: limiter, rlCfg: rlCfg, retrCfg: retrCfg}
}

// Search implements §4.H's search tool.
func (e *Executor) Search(ctx context.Context, id *identity.Identity, args map[string]interface{}) (*protocol.ToolCallResult, error) {
	start := time.Now()

	rawQuery, _ := args["query"].(string)
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		return nil, errtax.InvalidArgument("query must not be empty").WithContext(ctx)
	}
	if len(query) > 10000 {
		return nil, errtax.InvalidArgument("query must not exceed 10000 characters").WithContext(ctx)
	}

	requested := defaultResultCount
	if rc, ok := numberArg(args["result_count"]); ok {
		requested = rc
	}
	resultCount, clamped := clampResultCount(requested, e.retrCfg.DeclaredMaxResults)

	if msg, limited, err := e.checkRateLimit(ctx, id); err != nil {
		return nil, err
	} else if limited {
		return protocol.NewToolCallResult(protocol.NewTextContent(msg)), nil
	}

	resp, err := e.engine.Search(ctx, query, resultCount)
	if err != nil {
		logging.ToolsLogger.WithContext(ctx).WithError(err)
		return nil, errtax.Internal("tools.search", err).WithContext(ctx)
	}

	text := formatSearchResponse(resp, resultCount, e.retrCfg.DeclaredMaxResults, clamped, id.Authenticated)

	e.identity.LogSearch(ctx, identity.SearchLogEntry{
		IdentityKey: id.Key,
		Token:       id.Token,
		Query:       query,
		ResultCount: len(resp.RankedResults),
		LatencyMS:   time.Since(start).Milliseconds(),
		Status:      "ok",
		IP:          authn.ClientIPFromContext(ctx),
	})

	return protocol.NewToolCallResult(protocol.NewTextContent(text)), nil
}

// Fetch implements §4.H's fetch tool.
func (e *Executor) Fetch(ctx context.Context, id *identity.Identity, args map[string]interface{}) (*protocol.ToolCallResult, error) {
	start := time.Now()

	rawURL, _ := args["url"].(string)
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if msg, limited, err := e.checkRateLimit(ctx, id); err != nil {
		return nil, err
	} else if limited {
		return protocol.NewToolCallResult(protocol.NewTextContent(msg)), nil
	}

	page, err := e.corpus.GetPageByURL(ctx, normalized)
	if err != nil {
		e.identity.LogFetch(ctx, identity.FetchLogEntry{
			IdentityKey:  id.Key,
			Token:        id.Token,
			RequestedURL: rawURL,
			ActualURL:    normalized,
			LatencyMS:    time.Since(start).Milliseconds(),
			Status:       "not_found",
			Error:        err.Error(),
			IP:           authn.ClientIPFromContext(ctx),
		})
		return nil, errtax.From(err).WithContext(ctx)
	}

	text := formatFetchResponse(page, id.Authenticated)

	e.identity.LogFetch(ctx, identity.FetchLogEntry{
		IdentityKey:  id.Key,
		Token:        id.Token,
		RequestedURL: rawURL,
		ActualURL:    normalized,
		PageID:       page.ID,
		LatencyMS:    time.Since(start).Milliseconds(),
		Status:       "ok",
		IP:           authn.ClientIPFromContext(ctx),
	})

	return protocol.NewToolCallResult(protocol.NewTextContent(text)), nil
}

// checkRateLimit returns (message, true, nil) when the identity is rate
// limited — the spec requires this surfaced as a successful tool result,
// not a protocol error — or (_, false, err) when the underlying check
// itself failed for a reason other than rate limiting.
func (e *Executor) checkRateLimit(ctx context.Context, id *identity.Identity) (string, bool, error) {
	err := e.limiter.CheckIdentity(ctx, id.Key, id.Plan, e.rlCfg, !id.Authenticated)
	if err == nil {
		return "", false, nil
	}
	te := errtax.From(err)
	if te.Kind != errtax.KindRateLimited {
		return "", false, te.WithContext(ctx)
	}
	return formatRateLimitMessage(te), true, nil
}

// clampResultCount applies the hard [1, 50] clamp, then the tool-schema-
// declared ceiling, reporting whether either clamp changed the caller's
// requested value.
func clampResultCount(requested, declaredMax int) (int, bool) {
	hard := clampInt(requested, 1, 50)
	declared := clampInt(hard, 1, declaredMax)
	return declared, declared != requested
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func numberArg(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func formatRateLimitMessage(te *errtax.Error) string {
	detail, _ := te.Details.(errtax.RateLimitDetail)
	var sb strings.Builder
	if detail.Window == "week" {
		sb.WriteString("You've reached your weekly search quota")
	} else {
		sb.WriteString("You're searching too quickly")
	}
	sb.WriteString(" (")
	sb.WriteString(te.Message)
	sb.WriteString("). ")
	if detail.RetryAfter > 0 {
		sb.WriteString("Try again in ")
		sb.WriteString(detail.RetryAfter.Round(time.Second).String())
		sb.WriteString(". ")
	}
	sb.WriteString("Consider upgrading your plan for higher limits.")
	return sb.String()
}
