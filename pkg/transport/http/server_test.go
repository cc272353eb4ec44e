package http

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestServerServesUntilCancelled(t *testing.T) {
	env := newTestEnv(t, "")
	srv := NewServer(env.gateway)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+addr+"/ping", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	if _, err := http.Post("http://"+addr+"/ping", "application/json", nil); err == nil {
		t.Error("expected connection error after shutdown")
	}
}

func TestNewServerUsesGatewayConfig(t *testing.T) {
	env := newTestEnv(t, "")
	env.gateway.config.Addr = ":9999"
	env.gateway.config.ShutdownTimeout = 10 * time.Second

	srv := NewServer(env.gateway)
	if srv.httpServer.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.httpServer.Addr, ":9999")
	}
	if srv.timeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.timeout, 10*time.Second)
	}
}
