package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/value"
)

func TestExtensionOnLoadRan(t *testing.T) {
	c := dial(t, "ext")
	got, ok, err := c.Get(context.Background(), "loaded")
	if err != nil || !ok {
		t.Fatalf("GET loaded = %v, %v, %v", got, ok, err)
	}
	if !got.Equal(value.Bool(true)) {
		t.Errorf("loaded = %s, want true", got)
	}
}

func TestExtensionCommands(t *testing.T) {
	ctx := context.Background()
	c := dial(t, "")

	out, err := c.Call(ctx, "greet", "keyspace")
	if err != nil {
		t.Fatalf("CALL greet: %v", err)
	}
	if out != "hello keyspace" {
		t.Errorf("CALL greet = %q, want \"hello keyspace\"", out)
	}

	for _, want := range []string{"1", "2"} {
		out, err := c.Call(ctx, "incr", "counters", "visits")
		if err != nil {
			t.Fatalf("CALL incr: %v", err)
		}
		if out != want {
			t.Errorf("CALL incr = %q, want %q", out, want)
		}
	}

	// The extension's writes are ordinary entries.
	token := login(t, auth.MasterAccount, serverPassword)
	resp := postJSON(t, "/counters/get", token, map[string]string{"key": "visits"})
	env := decodeEnvelope(t, resp, http.StatusOK)
	var data struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Value != 2 {
		t.Errorf("visits = %s, want 2", env.Data)
	}
}

func TestExtensionReadsStoredValues(t *testing.T) {
	ctx := context.Background()
	c := dial(t, "tagged")
	tags := value.List(value.String("a"), value.String("b"))
	if err := c.SetEx(ctx, "t", tags, 0); err != nil {
		t.Fatalf("SETEX: %v", err)
	}

	out, err := c.Call(ctx, "tags", "tagged", "t")
	if err != nil {
		t.Fatalf("CALL tags: %v", err)
	}
	if out != "a,b" {
		t.Errorf("CALL tags = %q, want \"a,b\"", out)
	}
}

func TestExtensionError(t *testing.T) {
	c := dial(t, "")
	_, err := c.Call(context.Background(), "missing")
	if !errors.Is(err, protocol.ErrExtension) {
		t.Errorf("CALL missing error = %v, want ErrExtension", err)
	}

	// The session survives a failed command.
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("PING after failed CALL: %v", err)
	}
}
