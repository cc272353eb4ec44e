package integration

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/protocol"
)

func TestInvalidJSON(t *testing.T) {
	token := login(t, auth.MasterAccount, serverPassword)
	req, err := http.NewRequest(http.MethodPost, testEnv.BaseURL()+"/ns/get", bytes.NewReader([]byte(`{invalid json`)))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	env := decodeEnvelope(t, resp, http.StatusBadRequest)
	if env.Status != "error" || env.Error == "" {
		t.Errorf("envelope = %+v, want error with message", env)
	}
}

func TestNamespaceRouteRequiresToken(t *testing.T) {
	resp := postJSON(t, "/ns/get", "", map[string]string{"key": "k"})
	env := decodeEnvelope(t, resp, http.StatusUnauthorized)
	if env.Status != "error" {
		t.Errorf("status = %q, want \"error\"", env.Status)
	}

	resp = postJSON(t, "/ns/get", "not-a-token", map[string]string{"key": "k"})
	decodeEnvelope(t, resp, http.StatusUnauthorized)
}

func TestUnknownOperation(t *testing.T) {
	token := login(t, auth.MasterAccount, serverPassword)
	resp := postJSON(t, "/ns/flush", token, map[string]string{"key": "k"})
	decodeEnvelope(t, resp, http.StatusNotFound)
}

func TestKeyNotFound(t *testing.T) {
	token := login(t, auth.MasterAccount, serverPassword)
	resp := postJSON(t, "/ns/get", token, map[string]string{"key": "never-set"})
	decodeEnvelope(t, resp, http.StatusNotFound)
}

func TestProtocolRequiresAuth(t *testing.T) {
	ctx := context.Background()
	c, err := protocol.Dial(ctx, testEnv.ProtoAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Select(ctx, "ns"); !errors.Is(err, protocol.ErrAuthRequired) {
		t.Errorf("SELECT before AUTH error = %v, want ErrAuthRequired", err)
	}
	if err := c.Auth(ctx, "wrong"); !errors.Is(err, protocol.ErrAuthenticationFailed) {
		t.Errorf("AUTH wrong error = %v, want ErrAuthenticationFailed", err)
	}
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, protocol.ErrAuthRequired) {
		t.Errorf("GET after failed AUTH error = %v, want ErrAuthRequired", err)
	}
}
