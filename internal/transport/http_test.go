package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch-mcp/internal/authn"
	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/mcpserver"
	"docsearch-mcp/internal/protocol"
)

// fakeToolCaller is a minimal mcpserver.ToolCaller; the protocol-core
// behavior itself is exercised in internal/mcpserver's own tests.
type fakeToolCaller struct{}

func (fakeToolCaller) Search(_ context.Context, _ *identity.Identity, _ map[string]interface{}) (*protocol.ToolCallResult, error) {
	return protocol.NewToolCallResult(protocol.NewTextContent("ok")), nil
}

func (fakeToolCaller) Fetch(_ context.Context, _ *identity.Identity, _ map[string]interface{}) (*protocol.ToolCallResult, error) {
	return protocol.NewToolCallResult(protocol.NewTextContent("page")), nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	sessionCfg := config.SessionConfig{
		Enabled:         true,
		SessionTTL:      time.Hour,
		SessionSweep:    time.Minute,
		InflightGrace:   5 * time.Second,
		InflightSweep:   time.Minute,
		ToolCallTimeout: 2 * time.Second,
		MetaCallTimeout: time.Second,
	}
	srv := mcpserver.NewServer("docsearch-mcp", "test", fakeToolCaller{}, sessionCfg, 10)
	resolver := authn.NewResolver(identity.NewFake())
	return NewHandler(srv, resolver, Config{SSEEnabled: true, SSEIdleTimeout: time.Second})
}

func postJSON(t *testing.T, h http.Handler, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRPCInitializeSetsSessionHeader(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h.Router(), map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": protocol.Version,
		},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))

	var resp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestRPCNotificationReturns202WithNoBody(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h.Router(), map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestRPCRejectsUnsupportedProtocolVersionHeader(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h.Router(), map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "ping",
	}, map[string]string{ProtocolVersionHeader: "1999-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCMalformedJSONIsParseError(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ParseError, resp.Error.Code)
}

func TestCORSPreflightIsHandled(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotFoundIsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	rec := postJSON(t, h.Router(), map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "nonexistent/method",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}
