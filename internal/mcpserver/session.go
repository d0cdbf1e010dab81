// Package mcpserver implements the MCP Protocol Core (§4.I): method
// dispatch, session table, inflight-request tracking, progress tokens,
// cancellation, and ping. Grounded on pkg/mcp/protocol/types.go and
// pkg/mcp/server/server.go's dispatch switch (pre-adaptation), extended
// with the session/inflight/progress state the teacher's stateless
// dispatcher never needed.
package mcpserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"docsearch-mcp/internal/identity"
)

// ConnectionHealth tracks the teacher-absent ping/EMA-latency sub-record
// the spec's Session entity requires (§3).
type ConnectionHealth struct {
	LastPong   time.Time
	PingCount  int64
	LatencyEMA time.Duration
}

// emaAlpha is the smoothing factor for the ping-latency exponential moving
// average, fixed by the spec at 0.2.
const emaAlpha = 0.2

// Session is a server-generated conversation anchor, created on
// initialize when sessions are enabled. It becomes invalid after 24h of
// age or 2h of inactivity (§3); once bound to an identity, a mismatched
// identity on a later request makes the session not-initialized for that
// request only, it does not delete the session.
type Session struct {
	mu           sync.Mutex
	ID           string
	Identity     *identity.Identity
	CreatedAt    time.Time
	LastActivity time.Time
	Initialized  bool
	Health       ConnectionHealth
}

func newSession() *Session {
	now := time.Now()
	return &Session{ID: uuid.NewString(), CreatedAt: now, LastActivity: now}
}

// Touch records activity, resetting the 2h inactivity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// Expired reports whether the session has aged out or gone idle too long.
func (s *Session) Expired(ttl, idleTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return now.Sub(s.CreatedAt) > ttl || now.Sub(s.LastActivity) > idleTimeout
}

// MarkInitialized binds the session to id (if not already bound) and sets
// Initialized. Called on notifications/initialized, which per §4.I binds
// on first receipt only.
func (s *Session) MarkInitialized(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Initialized = true
	if s.Identity == nil {
		s.Identity = id
	}
}

// IsInitialized reports whether notifications/initialized has been observed.
func (s *Session) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Initialized
}

// MatchesIdentity reports whether id is compatible with the identity this
// session was bound to. An unbound session matches anything; a bound
// session only matches its own identity key.
func (s *Session) MatchesIdentity(id *identity.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Identity == nil || id == nil {
		return true
	}
	return s.Identity.Key == id.Key
}

// RecordPong folds a measured round-trip latency into the session's EMA.
func (s *Session) RecordPong(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Health.LastPong = time.Now()
	s.Health.PingCount++
	if s.Health.LatencyEMA == 0 {
		s.Health.LatencyEMA = latency
		return
	}
	s.Health.LatencyEMA = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(s.Health.LatencyEMA))
}

// Registry is the process-wide session table, swept periodically rather
// than timer-per-entry (§9's "single monotonic-tick scheduler" redesign
// note). Backed by sync.Map since any worker may touch any session and
// there is no per-session affinity (§5).
type Registry struct {
	sessions sync.Map // string -> *Session
	ttl      time.Duration
	idle     time.Duration
}

func NewRegistry(ttl, idle time.Duration) *Registry {
	return &Registry{ttl: ttl, idle: idle}
}

// Create allocates and stores a new session.
func (r *Registry) Create() *Session {
	s := newSession()
	r.sessions.Store(s.ID, s)
	return s
}

// Get returns the live session for id, evicting and reporting absent if
// it has expired.
func (r *Registry) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	if s.Expired(r.ttl, r.idle) {
		r.sessions.Delete(id)
		return nil, false
	}
	return s, true
}

// Delete explicitly invalidates a session (e.g. a transport-level DELETE).
func (r *Registry) Delete(id string) {
	r.sessions.Delete(id)
}

// Sweep evicts every expired session. Called on a ticker by Run.
func (r *Registry) Sweep() {
	r.sessions.Range(func(key, value interface{}) bool {
		s := value.(*Session)
		if s.Expired(r.ttl, r.idle) {
			r.sessions.Delete(key)
		}
		return true
	})
}

// Run drives periodic Sweep calls until done is closed. One goroutine, one
// ticker, serving every session — not a timer per entry.
func (r *Registry) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
