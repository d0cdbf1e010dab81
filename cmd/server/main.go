// server is the docsearch-mcp binary: an MCP server exposing hybrid
// document retrieval (search, fetch) over JSON-RPC-over-HTTP with optional
// SSE progress streaming.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"docsearch-mcp/internal/authn"
	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/embedding"
	"docsearch-mcp/internal/identity"
	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/mcpserver"
	"docsearch-mcp/internal/ratelimit"
	"docsearch-mcp/internal/rerank"
	"docsearch-mcp/internal/retrieval"
	"docsearch-mcp/internal/tools"
	"docsearch-mcp/internal/transport"
)

const serverName = "docsearch-mcp"

// serverVersion is stamped at release time; left as a constant since this
// binary has no build-time ldflags injection configured.
const serverVersion = "0.1.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := corpus.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	corpusStore := corpus.NewPostgresStore(db, &cfg.Database)

	identityStore, err := identity.NewPostgresStore(db, &cfg.Identity)
	if err != nil {
		return fmt.Errorf("init identity store: %w", err)
	}
	defer func() {
		if err := identityStore.Close(); err != nil {
			logging.ServerLogger.Error("identity store close failed", "error", err)
		}
	}()

	embedder, err := embedding.NewOpenAIService(&cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("init embedding service: %w", err)
	}

	reranker := rerank.NewHTTPClient(&cfg.Rerank)

	limiter, err := ratelimit.NewLimiter(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	defer func() {
		if err := limiter.Close(); err != nil {
			logging.ServerLogger.Error("rate limiter close failed", "error", err)
		}
	}()

	engine := retrieval.NewEngine(corpusStore, embedder, reranker, &cfg.Retrieval)
	executor := tools.NewExecutor(engine, corpusStore, identityStore, limiter, cfg.RateLimit, &cfg.Retrieval)

	mcpSrv := mcpserver.NewServer(serverName, serverVersion, executor, cfg.Session, cfg.Retrieval.DeclaredMaxResults)

	done := make(chan struct{})
	defer close(done)
	mcpSrv.RunBackground(done)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	transportCfg := transport.Config{
		Addr:           addr,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		SSEEnabled:     true,
		SSEIdleTimeout: 10 * time.Minute,
	}
	resolver := authn.NewResolver(identityStore)
	handler := transport.NewHandler(mcpSrv, resolver, transportCfg)

	return serve(ctx, addr, handler.Router(), transportCfg)
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. Grounded on the teacher's startAndRunHTTPServer signal/
// shutdown pattern (cmd/server/main.go, pre-adaptation).
func serve(ctx context.Context, addr string, router http.Handler, cfg transport.Config) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("docsearch-mcp listening on http://%s", addr)
		log.Printf("MCP endpoint: http://%s/", addr)
		log.Printf("health check: http://%s/healthz", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
