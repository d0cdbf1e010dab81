package identity

import (
	"context"
	"regexp"
	"sync"

	"docsearch-mcp/internal/errtax"
)

var fakeTokenFormat = regexp.MustCompile(`^at_[a-f0-9]{32}$`)

// Fake is an in-memory Store for tests.
type Fake struct {
	mu         sync.Mutex
	Tokens     map[string]Identity
	IPs        map[string]Identity
	SearchLogs []SearchLogEntry
	FetchLogs  []FetchLogEntry
}

func NewFake() *Fake {
	return &Fake{Tokens: make(map[string]Identity), IPs: make(map[string]Identity)}
}

func (f *Fake) ValidateToken(_ context.Context, token string) (*Identity, error) {
	if !fakeTokenFormat.MatchString(token) {
		return nil, errtax.InvalidArgument("token format invalid")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Tokens[token]
	if !ok {
		return nil, errtax.NotFound("token")
	}
	out := id
	return &out, nil
}

func (f *Fake) ResolveIP(_ context.Context, ip string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.IPs[ip]
	if !ok {
		return nil, errtax.NotFound("authorized ip")
	}
	out := id
	return &out, nil
}

func (f *Fake) LogSearch(_ context.Context, entry SearchLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchLogs = append(f.SearchLogs, entry)
}

func (f *Fake) LogFetch(_ context.Context, entry FetchLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchLogs = append(f.FetchLogs, entry)
}

func (f *Fake) Close() error { return nil }
