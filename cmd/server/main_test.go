package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuss/keyspace/pkg/config"
	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/value"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// brokenExtension returns an extension root whose entry script does not
// compile.
func brokenExtension(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "init.lua"), []byte("function ("), 0o644); err != nil {
		t.Fatalf("writing init.lua: %v", err)
	}
	return root
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestLoadExtensionSurvivesBrokenScript(t *testing.T) {
	access := gateway.New(storage.NewManager(), discardLogger)
	cfg := config.ExtensionConfig{Root: brokenExtension(t), Entry: "init.lua"}

	sandbox := loadExtension(context.Background(), cfg, access, discardLogger)
	defer sandbox.Close()

	if sandbox.Available() {
		t.Fatal("sandbox available after a failed load")
	}
	out, err := sandbox.CallCommand(context.Background(), "anything", nil)
	if err != nil || out != "" {
		t.Errorf("CallCommand = %q, %v; want a no-op", out, err)
	}
}

func TestRunServesWithBrokenExtension(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	cfg := config.Defaults()
	cfg.Server.Addr = freeAddr(t)
	cfg.Server.Password = "pw"
	cfg.Gateway.Enabled = false
	cfg.Observability.Metrics.Enabled = false
	cfg.Extension.Root = brokenExtension(t)
	cfg.Log.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, &cfg) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run after shutdown: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("run did not return after cancel")
		}
	}()

	var client *protocol.Client
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-done:
			t.Fatalf("run returned early: %v", err)
		default:
		}
		c, err := protocol.Dial(ctx, cfg.Server.Addr)
		if err == nil {
			client = c
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never accepted connections: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer client.Close()

	if err := client.Auth(ctx, "pw"); err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if err := client.Select(ctx, "app"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := client.SetEx(ctx, "k", value.String("v"), 0); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	got, ok, err := client.Get(ctx, "k")
	if err != nil || !ok || !got.Equal(value.String("v")) {
		t.Errorf("Get = %v, %v, %v; want \"v\"", got, ok, err)
	}
	if out, err := client.Call(ctx, "greet"); err != nil || out != "" {
		t.Errorf("Call = %q, %v; want an empty no-op result", out, err)
	}
}

func TestRestoreStoreReportsContents(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults().Storage
	cfg.Type = "leveldb"
	cfg.LevelDB.Path = filepath.Join(t.TempDir(), "db")

	m, err := restoreStore(ctx, cfg, discardLogger)
	if err != nil {
		t.Fatalf("restoreStore: %v", err)
	}
	sess, err := m.Select(ctx, "app")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := sess.Set(ctx, "k", value.Number(1), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m, err = restoreStore(ctx, cfg, discardLogger)
	if err != nil {
		t.Fatalf("restoreStore again: %v", err)
	}
	defer m.Close()
	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Namespaces != 1 || st.Entries != 1 {
		t.Errorf("Stats = %+v, want 1 namespace with 1 entry", st)
	}
}
