// Package transport implements the Transport Binding (§4.J): the HTTP
// entry point that frames JSON-RPC over POST /, negotiates the protocol
// version header, resolves identity, and routes into internal/mcpserver.
// Grounded on pkg/mcp/transport/http.go's HTTPTransport (request parsing,
// MaxBodySize, CORS, recovery middleware) and pkg/mcp/transport/sse.go's
// heartbeat loop, rebuilt on chi instead of the vendored raw ServeMux per
// SPEC_FULL.md §4.J.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"docsearch-mcp/internal/authn"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/mcpserver"
	"docsearch-mcp/internal/protocol"
)

// SessionHeader and ProtocolVersionHeader are the two MCP-specific headers
// consumed/emitted by this transport (§6.1).
const (
	SessionHeader         = "Mcp-Session-Id"
	ProtocolVersionHeader = "MCP-Protocol-Version"
	maxBodySize           = 10 * 1024 * 1024
)

// identityCtxKey carries the resolved Identity into the request context so
// downstream logging/handlers can read it without re-resolving it.
type identityCtxKey struct{}

// Config tunes the HTTP binding.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	SSEEnabled     bool
	SSEIdleTimeout time.Duration
}

// Handler is the HTTP entry point wiring the protocol core to chi.
type Handler struct {
	server   *mcpserver.Server
	resolver *authn.Resolver
	cfg      Config
	router   chi.Router
}

func NewHandler(server *mcpserver.Server, resolver *authn.Resolver, cfg Config) *Handler {
	h := &Handler{server: server, resolver: resolver, cfg: cfg}
	h.router = h.buildRouter()
	return h
}

func (h *Handler) Router() http.Handler { return h.router }

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", ProtocolVersionHeader, SessionHeader},
		ExposedHeaders:   []string{SessionHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(h.protocolVersionMiddleware)
	r.Use(h.identityMiddleware)

	r.Post("/", h.handleRPC)
	r.Get("/healthz", h.handleHealth)
	if h.cfg.SSEEnabled {
		r.Get("/sse", h.handleSSE)
	}
	return r
}

// protocolVersionMiddleware validates MCP-Protocol-Version when present; an
// absent header assumes the implementation-chosen default (§6.1).
func (h *Handler) protocolVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(ProtocolVersionHeader); v != "" && v != protocol.Version {
			writeEnvelopeError(w, errtax.InvalidArgument("unsupported MCP-Protocol-Version"), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware runs the Auth Resolver (§4.G) once per request and
// attaches the result to the request context.
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := authn.ExtractClientIP(r.Header, r.RemoteAddr)
		id := h.resolver.Resolve(r.Context(), r.Header, r.RemoteAddr)
		ctx := context.WithValue(r.Context(), identityCtxKey{}, id)
		ctx = authn.WithClientIP(ctx, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelopeError(w, errtax.New(errtax.KindInvalidArgument, "request body too large or unreadable"), nil)
		return
	}

	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(&protocol.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   protocol.NewJSONRPCError(protocol.ParseError, "invalid JSON", nil),
		})
		return
	}

	ctx := r.Context()
	id, _ := ctx.Value(identityCtxKey{}).(*identity.Identity)
	sessionID := r.Header.Get(SessionHeader)

	resp, effectiveSessionID := h.server.Handle(ctx, &req, sessionID, id)

	if mcpserver.IsNotification(&req) {
		if effectiveSessionID != "" {
			w.Header().Set(SessionHeader, effectiveSessionID)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if resp == nil {
		// Client-cancelled request: no response, per §5.
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if effectiveSessionID != "" {
		w.Header().Set(SessionHeader, effectiveSessionID)
	}
	if resp.Error != nil {
		w.WriteHeader(httpStatusForJSONRPCError(resp.Error.Code))
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.TransportLogger.WithContext(ctx).WithError(err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeEnvelopeError(w http.ResponseWriter, e *errtax.Error, id interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e.ToJSONRPCError(id))
}

// httpStatusForJSONRPCError maps a JSON-RPC error code to the HTTP status
// the spec's §6.5 table prescribes. Successful responses are always 200;
// only the documented handful of codes get a non-200 mapping.
func httpStatusForJSONRPCError(code int) int {
	switch code {
	case protocol.InvalidRequest, protocol.MethodNotFound, protocol.InvalidParams:
		return http.StatusBadRequest
	case protocol.InternalError:
		return http.StatusInternalServerError
	case protocol.ErrNotInitialized:
		return http.StatusServiceUnavailable
	case protocol.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}
