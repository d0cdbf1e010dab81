package mcpserver

import (
	"sync"
	"time"

	"docsearch-mcp/internal/protocol"
)

// minProgressInterval is the minimum spacing between progress updates for
// a single token (§3's ProgressToken invariant).
const minProgressInterval = 200 * time.Millisecond

// Notification is one server-to-client push, delivered over whatever
// channel the transport exposes (SSE heartbeat stream today).
type Notification struct {
	Method string
	Params interface{}
}

// progressState is the per-token bookkeeping needed to enforce the spec's
// monotonic-non-decreasing and minimum-interval invariants.
type progressState struct {
	mu       sync.Mutex
	last     float64
	lastSent time.Time
	started  bool
}

// ProgressTracker owns every live progress token of the server's inflight
// requests; one tracker is shared by the whole Server. A token belongs to exactly one request (§3); Release drops it once
// that request completes so tokens never leak across requests.
type ProgressTracker struct {
	mu     sync.Mutex
	tokens map[interface{}]*progressState
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{tokens: make(map[interface{}]*progressState)}
}

// Register claims a token for the duration of one request.
func (t *ProgressTracker) Register(token interface{}) {
	if token == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = &progressState{}
}

// Release frees a token at the end of its owning request.
func (t *ProgressTracker) Release(token interface{}) {
	if token == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// Report attempts to emit one progress update through send. It silently
// drops updates that would violate monotonicity or arrive before the
// minimum inter-update interval has elapsed, rather than erroring — a
// skipped progress tick is not a protocol failure.
func (t *ProgressTracker) Report(send func(Notification), token interface{}, progress, total float64) {
	if token == nil {
		return
	}
	t.mu.Lock()
	st, ok := t.tokens[token]
	t.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	now := time.Now()
	if st.started && progress < st.last {
		st.mu.Unlock()
		return
	}
	if st.started && now.Sub(st.lastSent) < minProgressInterval {
		st.mu.Unlock()
		return
	}
	st.last = progress
	st.lastSent = now
	st.started = true
	st.mu.Unlock()

	send(Notification{
		Method: "notifications/progress",
		Params: protocol.ProgressParams{ProgressToken: token, Progress: progress, Total: total},
	})
}
