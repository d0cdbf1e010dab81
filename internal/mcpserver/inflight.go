package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InflightRequest tracks one in-progress, cancellable method call (§3).
// Only tools/call requests are tracked; initialize is never tracked, and
// Cancel also refuses any entry whose Method is initialize.
type InflightRequest struct {
	mu          sync.Mutex
	RequestID   interface{}
	Method      string
	StartedAt   time.Time
	SessionID   string
	IdentityKey string
	cancel      context.CancelFunc
	completed   bool
	completedAt time.Time
}

func (ir *InflightRequest) markCompleted() {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if !ir.completed {
		ir.completed = true
		ir.completedAt = time.Now()
	}
}

// InflightRegistry is the process-wide inflight-request table (§3, §5).
// Entries are removed lazily: on completion they are marked for deletion
// and the sweep reaps anything past its grace window, giving
// notifications/cancelled a window to still observe (and safely no-op
// against) a request that just finished.
type InflightRegistry struct {
	mu    sync.Mutex
	byKey map[string]*InflightRequest
}

func NewInflightRegistry() *InflightRegistry {
	return &InflightRegistry{byKey: make(map[string]*InflightRequest)}
}

func requestKey(sessionID string, id interface{}) string {
	return sessionID + "\x00" + fmt.Sprint(id)
}

// Track registers a new inflight entry for (sessionID, requestID).
func (r *InflightRegistry) Track(sessionID, identityKey, method string, id interface{}, cancel context.CancelFunc) *InflightRequest {
	ir := &InflightRequest{
		RequestID:   id,
		Method:      method,
		StartedAt:   time.Now(),
		SessionID:   sessionID,
		IdentityKey: identityKey,
		cancel:      cancel,
	}
	r.mu.Lock()
	r.byKey[requestKey(sessionID, id)] = ir
	r.mu.Unlock()
	return ir
}

// Complete marks the entry finished; it is reaped by the next sweep after
// the configured grace window, not deleted immediately, so a racing
// cancellation notification still finds (and harmlessly no-ops against) it.
func (r *InflightRegistry) Complete(sessionID string, id interface{}) {
	r.mu.Lock()
	ir, ok := r.byKey[requestKey(sessionID, id)]
	r.mu.Unlock()
	if !ok {
		return
	}
	ir.markCompleted()
}

// Cancel aborts the inflight request for (sessionID, requestID) if it
// exists, is not yet completed, belongs to the given session, matches the
// given identity, and is not the non-cancellable initialize method.
// Foreign cancellations (wrong session/identity, unknown id) are silently
// ignored per §4.I.
func (r *InflightRegistry) Cancel(sessionID, identityKey string, id interface{}) bool {
	r.mu.Lock()
	ir, ok := r.byKey[requestKey(sessionID, id)]
	r.mu.Unlock()
	if !ok {
		return false
	}
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if ir.completed {
		return false
	}
	if ir.SessionID != sessionID || ir.IdentityKey != identityKey {
		return false
	}
	if ir.Method == "initialize" {
		return false
	}
	if ir.cancel != nil {
		ir.cancel()
	}
	return true
}

// Sweep removes entries that are either completed and past grace, or
// still running but older than maxAge (a leaked/forgotten tracker).
func (r *InflightRegistry) Sweep(maxAge, grace time.Duration) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, ir := range r.byKey {
		ir.mu.Lock()
		stale := (ir.completed && now.Sub(ir.completedAt) > grace) ||
			(!ir.completed && now.Sub(ir.StartedAt) > maxAge)
		ir.mu.Unlock()
		if stale {
			delete(r.byKey, k)
		}
	}
}

// Run drives periodic Sweep calls until done is closed.
func (r *InflightRegistry) Run(done <-chan struct{}, interval, maxAge, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.Sweep(maxAge, grace)
		}
	}
}

// Len reports the current table size, useful for health/diagnostic output.
func (r *InflightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
