// Package integration runs end-to-end tests against the whole keyspace
// stack: a LevelDB-backed store, a Lua extension, the protocol server and
// the HTTP gateway, all started in-process on loopback listeners.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/extension"
	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/storage/leveldb"
	"github.com/rhuss/keyspace/pkg/transport"
	transporthttp "github.com/rhuss/keyspace/pkg/transport/http"
	"github.com/rhuss/keyspace/pkg/transport/tcp"
)

const serverPassword = "integration-secret"

// extensionScript is installed as the extension's init.lua.
const extensionScript = `
local ext = {}

function ext.on_load()
  keyspace.open("ext"):set("loaded", true)
  log.info("extension ready")
end

function ext.call_command(name, args)
  if name == "greet" then
    return config.greeting .. " " .. (args[1] or "world")
  elseif name == "incr" then
    local ns = keyspace.open(args[1])
    local n = ns:get(args[2]) or 0
    ns:set(args[2], n + 1)
    return tostring(n + 1)
  elseif name == "tags" then
    return table.concat(keyspace.open(args[1]):get(args[2]), ",")
  end
  error("unknown command " .. name)
end

return ext
`

// testEnv holds the shared stack for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the running servers and what they are built on.
type TestEnvironment struct {
	dir      string
	manager  *storage.Manager
	sandbox  *extension.Sandbox
	pool     *transporthttp.Pool
	protoLn  net.Listener
	HTTP     *httptest.Server
	cancel   context.CancelFunc
	serveErr chan error
}

// TestMain starts the stack before running tests.
func TestMain(m *testing.M) {
	env, err := setupTestEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up integration environment: %v\n", err)
		os.Exit(1)
	}
	testEnv = env
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

func setupTestEnvironment() (*TestEnvironment, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	env := &TestEnvironment{cancel: cancel, serveErr: make(chan error, 1)}

	dir, err := os.MkdirTemp("", "keyspace-integration-*")
	if err != nil {
		return nil, err
	}
	env.dir = dir

	store, err := leveldb.New(leveldb.Config{Path: filepath.Join(dir, "db")})
	if err != nil {
		return nil, err
	}
	env.manager, err = storage.Open(ctx, store, storage.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	access := gateway.New(env.manager, logger)

	extRoot := filepath.Join(dir, "ext")
	if err := os.MkdirAll(extRoot, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(extRoot, "init.lua"), []byte(extensionScript), 0o644); err != nil {
		return nil, err
	}
	env.sandbox = extension.New(extension.Config{
		Root:     extRoot,
		Settings: map[string]string{"greeting": "hello"},
	}, access, logger)
	if err := env.sandbox.OnLoad(ctx); err != nil {
		return nil, err
	}

	dispatcher := transport.NewDispatcher(access,
		transport.WithPassword(auth.NewPassword(serverPassword)),
		transport.WithAttemptLimiter(auth.NewAttemptLimiter(600, 100)),
		transport.WithCommander(env.sandbox),
		transport.WithLogger(logger),
	)
	env.protoLn, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	protoSrv := tcp.NewServer(dispatcher, tcp.WithLogger(logger))
	go func() { env.serveErr <- protoSrv.Serve(ctx, env.protoLn) }()

	env.pool = transporthttp.NewPool(env.protoLn.Addr().String(), serverPassword, 4)
	cfg := transporthttp.DefaultConfig()
	cfg.Version = "integration"
	cfg.AuthRate = 6000
	gw, err := transporthttp.NewGateway(ctx, env.pool, serverPassword, cfg, logger)
	if err != nil {
		return nil, err
	}
	env.HTTP = httptest.NewServer(gw.Handler())
	return env, nil
}

// Teardown stops the servers and removes the data directory.
func (env *TestEnvironment) Teardown() {
	if env.HTTP != nil {
		env.HTTP.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	env.cancel()
	if env.protoLn != nil {
		<-env.serveErr
	}
	if env.sandbox != nil {
		env.sandbox.Close()
	}
	if env.manager != nil {
		env.manager.Close()
	}
	os.RemoveAll(env.dir)
}

// BaseURL returns the gateway base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.HTTP.URL
}

// ProtoAddr returns the protocol server address.
func (env *TestEnvironment) ProtoAddr() string {
	return env.protoLn.Addr().String()
}

// --- Protocol helpers ---

// dial opens an authenticated protocol connection with namespace selected.
// An empty namespace skips SELECT.
func dial(t *testing.T, namespace string) *protocol.Client {
	t.Helper()
	ctx := context.Background()
	c, err := protocol.Dial(ctx, testEnv.ProtoAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Auth(ctx, serverPassword); err != nil {
		t.Fatalf("AUTH: %v", err)
	}
	if namespace != "" {
		if err := c.Select(ctx, namespace); err != nil {
			t.Fatalf("SELECT %s: %v", namespace, err)
		}
	}
	return c
}

// --- HTTP helpers ---

// envelope is the gateway's response body.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// postJSON sends a POST request with JSON body and optional bearer token.
func postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, testEnv.BaseURL()+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(testEnv.BaseURL() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeEnvelope reads the response body as an envelope and checks the
// status code.
func decodeEnvelope(t *testing.T, resp *http.Response, wantCode int) envelope {
	t.Helper()
	body := readBody(t, resp)
	if resp.StatusCode != wantCode {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, wantCode, body)
	}
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("decoding envelope %q: %v", body, err)
	}
	return env
}

// login authenticates against POST /auth and returns the token.
func login(t *testing.T, username, password string) string {
	t.Helper()
	resp := postJSON(t, "/auth", "", map[string]string{"username": username, "password": password})
	env := decodeEnvelope(t, resp, http.StatusOK)
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login data %s: token missing (%v)", env.Data, err)
	}
	return data.Token
}
