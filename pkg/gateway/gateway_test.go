package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/storage/memory"
	"github.com/rhuss/keyspace/pkg/value"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newAccess(t *testing.T) (*Access, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := storage.NewManager(storage.WithClock(c.Now))
	return New(m, nil), c
}

func TestRoundTripEveryKind(t *testing.T) {
	a, _ := newAccess(t)
	ctx := context.Background()
	ns, err := a.Open(ctx, "values")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cases := map[string]value.Value{
		"none":   value.None(),
		"bool":   value.Bool(false),
		"number": value.Number(1.5),
		"string": value.String("x"),
		"dict":   value.Dict(map[string]value.Value{"a": value.Number(1)}),
		"list":   value.List(value.Number(1), value.String("x"), value.Bool(true)),
		"tuple":  value.Tuple(value.String("a"), value.None()),
	}
	for key, want := range cases {
		if err := ns.Set(ctx, key, want, 0); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
		got, ok, err := ns.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v, %v", key, got, ok, err)
		}
		if got.Kind() != want.Kind() || !got.Equal(want) {
			t.Errorf("Get(%s) = %v, want %v", key, got, want)
		}
	}
}

func TestNeverReturnsExpired(t *testing.T) {
	a, c := newAccess(t)
	ctx := context.Background()
	ns, _ := a.Open(ctx, "cache")

	if err := ns.Set(ctx, "k", value.String("v"), 5); err != nil {
		t.Fatal(err)
	}
	c.Advance(6 * time.Second)

	if _, ok, err := ns.Get(ctx, "k"); ok || err != nil {
		t.Errorf("Get after expiry = %v, %v; want false, nil", ok, err)
	}
	if existed, _ := ns.Delete(ctx, "k"); existed {
		t.Error("expired entry was still physically present")
	}
}

func TestHandlesAreIndependent(t *testing.T) {
	a, _ := newAccess(t)
	ctx := context.Background()

	x, _ := a.Open(ctx, "x")
	y, _ := a.Open(ctx, "y")
	_ = x.Set(ctx, "k", value.Number(1), 0)

	if ok, _ := y.Exists(ctx, "k"); ok {
		t.Error("namespace y sees x's key")
	}
	if x.Name() != "x" || y.Name() != "y" {
		t.Errorf("names = %q, %q", x.Name(), y.Name())
	}
}

func TestFailuresBecomeErrAccess(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	p := memory.New()
	m, err := storage.Open(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	a := New(m, logger)
	ctx := context.Background()
	ns, _ := a.Open(ctx, "n")

	_ = p.Close()
	err = ns.Set(ctx, "k", value.Number(1), 0)
	if !errors.Is(err, ErrAccess) {
		t.Fatalf("Set = %v, want ErrAccess", err)
	}
	if errors.Is(err, storage.ErrIO) {
		t.Error("gateway leaked the storage error")
	}
	if !strings.Contains(logs.String(), "storage I/O failure") {
		t.Errorf("cause not logged: %s", logs.String())
	}

	if _, err := a.Open(ctx, ""); !errors.Is(err, ErrAccess) {
		t.Errorf("Open(\"\") = %v, want ErrAccess", err)
	}
}

func TestContextErrorsPassThrough(t *testing.T) {
	a, _ := newAccess(t)
	ns, _ := a.Open(context.Background(), "n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := ns.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestHugeTTLIsClamped(t *testing.T) {
	a, c := newAccess(t)
	ctx := context.Background()
	ns, _ := a.Open(ctx, "n")

	if err := ns.Set(ctx, "k", value.Number(1), ^uint64(0)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Advance(100 * 365 * 24 * time.Hour)
	if ok, _ := ns.Exists(ctx, "k"); !ok {
		t.Error("entry with maximal TTL expired")
	}
}
