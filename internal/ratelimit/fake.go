package ratelimit

import (
	"context"
	"sync"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
)

// Checker is the identity rate-limit boundary Component D and the tool
// executors depend on.
type Checker interface {
	CheckIdentity(ctx context.Context, identityKey, plan string, cfg config.RateLimitConfig, anonymous bool) error
}

// Fake is an in-memory Checker for tests: it counts calls per identity key
// within the process lifetime rather than windowing by wall-clock time.
type Fake struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewFake() *Fake {
	return &Fake{counts: make(map[string]int)}
}

func (f *Fake) CheckIdentity(_ context.Context, identityKey, plan string, cfg config.RateLimitConfig, anonymous bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	shortScale, _ := cfg.ScaleFor(plan, anonymous)
	limit := int(float64(cfg.ShortWindow.Requests) * shortScale)
	if limit < 1 {
		limit = 1
	}

	f.counts[identityKey]++
	if f.counts[identityKey] > limit {
		return errtax.RateLimited(limit, "minute", cfg.ShortWindow.Window, 0)
	}
	return nil
}
