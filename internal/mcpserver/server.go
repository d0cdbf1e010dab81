package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/protocol"
	"docsearch-mcp/internal/tools"
)

// supportedProtocolVersions is the closed set of protocol revisions this
// server negotiates (§4.I, §6.1). A client requesting anything else gets
// InvalidParams with this list attached.
var supportedProtocolVersions = []string{protocol.Version}

// ToolCaller is the subset of internal/tools.Executor the protocol core
// depends on, kept narrow so tests can substitute a stub.
type ToolCaller interface {
	Search(ctx context.Context, id *identity.Identity, args map[string]interface{}) (*protocol.ToolCallResult, error)
	Fetch(ctx context.Context, id *identity.Identity, args map[string]interface{}) (*protocol.ToolCallResult, error)
}

var _ ToolCaller = (*tools.Executor)(nil)

// Server is the MCP Protocol Core (§4.I). It owns the session, inflight,
// and progress tables and dispatches tools/call into the wired executor.
// Grounded on pkg/mcp/server/server.go's method-switch HandleRequest shape,
// extended with everything the teacher's stateless dispatcher lacked.
type Server struct {
	name    string
	version string

	executor ToolCaller
	cfg      config.SessionConfig
	declared int

	sessions *Registry
	inflight *InflightRegistry
	progress *ProgressTracker
	notify   *sessionNotifier
}

func NewServer(name, version string, executor ToolCaller, sessionCfg config.SessionConfig, declaredMaxResults int) *Server {
	return &Server{
		name:     name,
		version:  version,
		executor: executor,
		cfg:      sessionCfg,
		declared: declaredMaxResults,
		sessions: NewRegistry(sessionCfg.SessionTTL, 2*time.Hour),
		inflight: NewInflightRegistry(),
		progress: NewProgressTracker(),
		notify:   newSessionNotifier(),
	}
}

// RunBackground starts the session and inflight sweepers, each in its own
// goroutine, and returns at once; both sweepers stop when done is closed.
func (s *Server) RunBackground(done <-chan struct{}) {
	go s.sessions.Run(done, s.cfg.SessionSweep)
	go s.inflight.Run(done, s.cfg.InflightSweep, 5*time.Minute, s.cfg.InflightGrace)
}

// Subscribe exposes a session's push-notification channel to the SSE
// transport upgrade.
func (s *Server) Subscribe(sessionID string) (<-chan Notification, func()) {
	return s.notify.Subscribe(sessionID)
}

func (s *Server) emit(sessionID string, note Notification) {
	s.notify.Publish(sessionID, note)
}

// IsNotification reports whether req carries no id, per JSON-RPC 2.0 — the
// server must never write a response for one.
func IsNotification(req *protocol.JSONRPCRequest) bool {
	return req.ID == nil
}

// Handle dispatches one JSON-RPC request/notification. It returns the
// response to write (nil for notifications and for client-cancelled
// requests, which the transport must not answer) and the session id the
// transport should echo in its Mcp-Session-Id response header (unchanged
// from sessionID unless this call was initialize and sessions are enabled).
func (s *Server) Handle(ctx context.Context, req *protocol.JSONRPCRequest, sessionID string, id *identity.Identity) (resp *protocol.JSONRPCResponse, effectiveSessionID string) {
	effectiveSessionID = sessionID

	var sess *Session
	if s.cfg.Enabled && sessionID != "" {
		sess, _ = s.sessions.Get(sessionID)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		if sess != nil {
			sess.MarkInitialized(id)
		}
		return nil, effectiveSessionID
	case "notifications/cancelled":
		s.handleCancelled(req, sessionID, id)
		return nil, effectiveSessionID
	case "ping":
		return s.handlePing(ctx, req, sess), effectiveSessionID
	case "tools/list":
		return s.handleToolsList(req), effectiveSessionID
	case "tools/call":
		if IsNotification(req) {
			// A notification cannot carry a meaningful result; ignore.
			return nil, effectiveSessionID
		}
		if err := s.requireInitialized(sess, id); err != nil {
			return err.ToJSONRPCError(req.ID), effectiveSessionID
		}
		return s.handleToolsCall(ctx, req, sessionID, id), effectiveSessionID
	default:
		if IsNotification(req) {
			return nil, effectiveSessionID
		}
		return errorResponse(req.ID, protocol.MethodNotFound, "method not found: "+req.Method), effectiveSessionID
	}
}

// errorResponse builds a raw JSON-RPC error response from a bare code, for
// the handful of cases (method-not-found, unknown tool) that have no
// errtax.Kind counterpart since they are protocol-envelope errors rather
// than domain errors.
func errorResponse(id interface{}, code int, message string) *protocol.JSONRPCResponse {
	return &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: protocol.NewJSONRPCError(code, message, nil)}
}

// requireInitialized enforces the session state machine: sessions disabled
// means every request is implicitly initialized (§9's open-question
// resolution); otherwise the session must exist, be initialized, and (if
// already bound) match the caller's identity.
func (s *Server) requireInitialized(sess *Session, id *identity.Identity) *errtax.Error {
	if !s.cfg.Enabled {
		return nil
	}
	if sess == nil || !sess.IsInitialized() {
		return errtax.NotInitialized()
	}
	if !sess.MatchesIdentity(id) {
		return errtax.NotInitialized()
	}
	sess.Touch()
	return nil
}

func (s *Server) handleInitialize(req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, string) {
	var params protocol.InitializeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errtax.InvalidArgument("invalid initialize params: " + err.Error()).ToJSONRPCError(req.ID), ""
	}

	if !supportsVersion(params.ProtocolVersion) {
		return errtax.InvalidArgument("unsupported protocol version").
			WithDetails(map[string]interface{}{"requested": params.ProtocolVersion, "supported": supportedProtocolVersions}).
			ToJSONRPCError(req.ID), ""
	}

	negotiated := params.ProtocolVersion
	if negotiated == "" {
		negotiated = supportedProtocolVersions[0]
	}

	var sessionID string
	if s.cfg.Enabled {
		sess := s.sessions.Create()
		sessionID = sess.ID
	}

	result := protocol.InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities: protocol.ServerCapabilities{
			Tools:   &protocol.ToolCapability{ListChanged: true},
			Logging: map[string]interface{}{},
		},
		ServerInfo: protocol.ServerInfo{Name: s.name, Version: s.version},
	}

	return &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}, sessionID
}

func supportsVersion(v string) bool {
	if v == "" {
		return true
	}
	for _, supported := range supportedProtocolVersions {
		if supported == v {
			return true
		}
	}
	return false
}

func (s *Server) handleToolsList(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return &protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"tools": toolDescriptors(s.declared)},
	}
}

func (s *Server) handlePing(ctx context.Context, req *protocol.JSONRPCRequest, sess *Session) *protocol.JSONRPCResponse {
	start := time.Now()
	if sess != nil {
		sess.Touch()
		sess.RecordPong(time.Since(start))
	}
	_ = ctx
	return &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
}

func (s *Server) handleCancelled(req *protocol.JSONRPCRequest, sessionID string, id *identity.Identity) {
	var params protocol.CancelledParams
	if err := decodeParams(req.Params, &params); err != nil {
		return
	}
	identityKey := ""
	if id != nil {
		identityKey = id.Key
	}
	if !s.inflight.Cancel(sessionID, identityKey, params.RequestID) {
		logging.MCPLogger.Warn("cancellation ignored: no matching inflight request",
			"request_id", fmt.Sprint(params.RequestID), "session_id", sessionID)
	}
}

type toolCallOutcome struct {
	resp *protocol.JSONRPCResponse
}

// handleToolsCall runs the named tool under a request-scoped deadline and
// tracks it as cancellable inflight work. A client cancellation (observed
// as ctx.Err() == context.Canceled) yields no response at all, per §5; a
// deadline instead surfaces as InternalError("Query timeout").
func (s *Server) handleToolsCall(ctx context.Context, req *protocol.JSONRPCRequest, sessionID string, id *identity.Identity) *protocol.JSONRPCResponse {
	var params protocol.ToolCallParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errtax.InvalidArgument("invalid tools/call params: " + err.Error()).ToJSONRPCError(req.ID)
	}
	if params.Name != "search" && params.Name != "fetch" {
		return errorResponse(req.ID, protocol.MethodNotFound, "unknown tool: "+params.Name)
	}
	if params.Arguments == nil {
		return errtax.InvalidArgument("arguments are required").ToJSONRPCError(req.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ToolCallTimeout)
	defer cancel()

	identityKey := ""
	if id != nil {
		identityKey = id.Key
	}
	s.inflight.Track(sessionID, identityKey, req.Method, req.ID, cancel)
	defer s.inflight.Complete(sessionID, req.ID)

	if token := extractProgressToken(req.Params); token != nil {
		s.progress.Register(token)
		defer s.progress.Release(token)
		send := func(note Notification) { s.emit(sessionID, note) }
		s.progress.Report(send, token, 0, 1)
		defer s.progress.Report(send, token, 1, 1)
	}

	resultCh := make(chan toolCallOutcome, 1)
	go func() {
		var result *protocol.ToolCallResult
		var err error
		switch params.Name {
		case "search":
			result, err = s.executor.Search(callCtx, id, params.Arguments)
		case "fetch":
			result, err = s.executor.Fetch(callCtx, id, params.Arguments)
		}
		if err != nil {
			resultCh <- toolCallOutcome{resp: errtax.From(err).ToJSONRPCError(req.ID)}
			return
		}
		resultCh <- toolCallOutcome{resp: &protocol.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}}
	}()

	select {
	case outcome := <-resultCh:
		return outcome.resp
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return errtax.New(errtax.KindInternal, "Query timeout").ToJSONRPCError(req.ID)
		}
		// Client-initiated cancellation: no response is sent.
		return nil
	}
}

// extractProgressToken reads the client-supplied progressToken out of a
// tools/call request's "_meta" field (§3's ProgressToken, carried in
// request metadata per the MCP convention rather than a top-level field).
func extractProgressToken(params interface{}) interface{} {
	m, ok := params.(map[string]interface{})
	if !ok {
		return nil
	}
	meta, ok := m["_meta"].(map[string]interface{})
	if !ok {
		return nil
	}
	return meta["progressToken"]
}

// decodeParams round-trips params through JSON into target, since the
// transport hands us params already decoded once into interface{} (usually
// map[string]interface{}). Grounded on pkg/mcp/server/server.go's
// parseParams helper.
func decodeParams(params interface{}, target interface{}) error {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
