package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEUpgradeRequiresSessionHeader(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestSSEStreamOpensAndSelfCloses exercises the upgrade against a real
// listener, since httptest.ResponseRecorder doesn't give handleSSE a genuine
// http.Flusher the way a real server-side ResponseWriter does. The hard
// per-connection timeout is shortened so the stream terminates on its own
// well within the test's deadline without needing to wait out a real
// heartbeat tick.
func TestSSEStreamOpensAndSelfCloses(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.SSEIdleTimeout = 50 * time.Millisecond

	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, "some-session-id")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The hard timeout fires well before the 30s heartbeat tick, so the
	// server should close the body on its own without ever writing a frame.
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)
}
