package mcpserver

import "sync"

// notifyQueueSize bounds the per-session backlog; grounded on
// pkg/mcp/notifications/notifier.go's buffered queue+handler shape, narrowed
// from one global queue fanning out to every registered transport down to
// one bounded channel per session, since this server has exactly one
// streaming transport (SSE) to fan out to.
const notifyQueueSize = 32

// sessionNotifier is the process-wide table of per-session notification
// channels, subscribed to by the SSE transport upgrade and published to by
// Server.emit (progress notifications from tools/call).
type sessionNotifier struct {
	mu   sync.Mutex
	subs map[string]chan Notification
}

func newSessionNotifier() *sessionNotifier {
	return &sessionNotifier{subs: make(map[string]chan Notification)}
}

// Subscribe returns a channel of notifications for sessionID and an
// unsubscribe func the caller must invoke when the stream closes.
func (n *sessionNotifier) Subscribe(sessionID string) (<-chan Notification, func()) {
	ch := make(chan Notification, notifyQueueSize)
	n.mu.Lock()
	n.subs[sessionID] = ch
	n.mu.Unlock()
	return ch, func() {
		n.mu.Lock()
		if n.subs[sessionID] == ch {
			delete(n.subs, sessionID)
		}
		n.mu.Unlock()
		close(ch)
	}
}

// Publish delivers one notification to sessionID's subscriber, if any. A
// full channel drops the notification rather than blocking the caller —
// the same drop-on-overflow policy internal/audit applies to async work.
func (n *sessionNotifier) Publish(sessionID string, note Notification) {
	n.mu.Lock()
	ch, ok := n.subs[sessionID]
	n.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- note:
	default:
	}
}
