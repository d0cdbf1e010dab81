package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docsearch-mcp/internal/transport"
)

// TestServeShutsDownOnContextCancellation exercises the one piece of main's
// wiring that doesn't require a live database, Redis, or OpenAI credential:
// serve's graceful-shutdown behavior when its context is cancelled.
func TestServeShutsDownOnContextCancellation(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ln := httptest.NewServer(router)
	addr := ln.Listener.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, addr, router, transport.Config{
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
	}()

	// Give the listener a moment to bind before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error on graceful shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after context cancellation")
	}
}
