package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	runtimedebug "runtime/debug"
	"time"

	"github.com/rs/cors"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/auth/jwt"
	"github.com/rhuss/keyspace/pkg/debug"
	"github.com/rhuss/keyspace/pkg/observability"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/transport"
	"github.com/rhuss/keyspace/pkg/value"
)

// Keys of the gateway's bookkeeping namespace.
const (
	SystemNamespace = "system"
	AccountsKey     = "service@accounts"
	SecretKey       = "service@acc-checker"
)

// Gateway serves the JSON/HTTP API. Every request is translated into wire
// commands on a pooled protocol connection.
type Gateway struct {
	pool     *Pool
	password auth.Password
	tokens   *jwt.Authenticator
	limiter  *auth.AttemptLimiter
	mux      *http.ServeMux
	config   Config
	logger   *slog.Logger
}

// Config holds configuration for the HTTP gateway.
type Config struct {
	Addr            string
	RequestTimeout  time.Duration
	MaxBodySize     int64
	TokenTTL        time.Duration
	AllowedOrigins  []string
	AuthRate        int // login attempts per minute per remote host
	ShutdownTimeout time.Duration
	Version         string
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		RequestTimeout:  30 * time.Second,
		MaxBodySize:     1 << 20, // 1 MB
		TokenTTL:        24 * time.Hour,
		AuthRate:        10,
		ShutdownTimeout: 30 * time.Second,
		Version:         "dev",
	}
}

// NewGateway initialises the system namespace through pool and builds the
// gateway. password is the server password, which also authenticates the
// master account.
func NewGateway(ctx context.Context, pool *Pool, password string, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	secret, err := initSystem(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("initialising %s namespace: %w", SystemNamespace, err)
	}
	tokens, err := jwt.New(jwt.Config{
		Secret: []byte(secret),
		Issuer: "keyspace",
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		pool:     pool,
		password: auth.NewPassword(password),
		tokens:   tokens,
		limiter:  auth.NewAttemptLimiter(cfg.AuthRate, max(cfg.AuthRate/2, 1)),
		mux:      http.NewServeMux(),
		config:   cfg,
		logger:   logger,
	}

	g.mux.HandleFunc("GET /{$}", g.route(g.handleIndex))
	g.mux.HandleFunc("POST /{$}", g.route(g.handleIndex))
	g.mux.HandleFunc("POST /auth", g.route(g.handleAuth))
	g.mux.HandleFunc("POST /ping", g.route(g.handlePing))
	g.mux.HandleFunc("GET /healthz", g.route(g.handleHealth))
	g.mux.HandleFunc("POST /{namespace}/{operation}", g.route(g.handleCommand))

	return g, nil
}

// initSystem creates the account table and the token secret if absent and
// returns the secret.
func initSystem(ctx context.Context, pool *Pool) (string, error) {
	c, err := pool.Get(ctx)
	if err != nil {
		return "", err
	}
	defer pool.Put(c)

	if err := c.Select(ctx, SystemNamespace); err != nil {
		return "", err
	}

	if _, ok, err := c.Get(ctx, AccountsKey); err != nil {
		return "", err
	} else if !ok {
		if err := c.SetEx(ctx, AccountsKey, value.Dict(nil), 0); err != nil {
			return "", err
		}
	}

	v, ok, err := c.Get(ctx, SecretKey)
	if err != nil {
		return "", err
	}
	if secret, isString := v.AsString(); ok && isString && secret != "" {
		return secret, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := c.SetEx(ctx, SecretKey, value.String(secret), 0); err != nil {
		return "", err
	}
	return secret, nil
}

// Handler returns the http.Handler for the gateway, wrapped in request ID,
// metrics, CORS, recovery, timeout and authentication middleware.
func (g *Gateway) Handler() http.Handler {
	chain := &auth.AuthChain{
		Authenticators:  []auth.Authenticator{g.tokens},
		DefaultDecision: auth.No,
	}
	if !g.password.Required() {
		chain.DefaultDecision = auth.Yes
	}

	var h http.Handler = g.mux
	h = auth.Middleware(chain, auth.DefaultBypassEndpoints)(h)
	h = g.timeoutMiddleware(h)
	h = g.recoveryMiddleware(h)
	h = cors.New(cors.Options{
		AllowedOrigins: g.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}).Handler(h)
	h = observability.MetricsMiddleware(h)
	return httpRequestIDMiddleware(h)
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header, generating one when the client sent none.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// timeoutMiddleware bounds every request by the configured timeout.
func (g *Gateway) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware turns panics into 500 responses.
func (g *Gateway) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.ErrorContext(r.Context(), "panic in HTTP handler",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(runtimedebug.Stack()),
				)
				http.Error(w, fmt.Sprintf("Unhandled internal error: %v", rec), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// apiError is a handler failure with a client-facing status.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func newAPIError(status int, format string, args ...any) error {
	return &apiError{status: status, message: fmt.Sprintf(format, args...)}
}

// envelope is the JSON body of every gateway response.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// route adapts a handler that returns data or an error.
func (g *Gateway) route(fn func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fn(r)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data})
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.status, envelope{Status: "error", Error: apiErr.message})
	case errors.Is(err, context.DeadlineExceeded):
		g.logger.WarnContext(r.Context(), "request timed out", "path", r.URL.Path)
		http.Error(w, "Request took too long", http.StatusRequestTimeout)
	default:
		g.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, fmt.Sprintf("Unhandled internal error: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func (g *Gateway) decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, g.config.MaxBodySize))
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return newAPIError(http.StatusRequestEntityTooLarge, "request body too large (max %d bytes)", g.config.MaxBodySize)
		}
		return newAPIError(http.StatusBadRequest, "invalid JSON: %v", err)
	}
	return nil
}

// withClient runs fn on a pooled connection.
func (g *Gateway) withClient(ctx context.Context, fn func(c *protocol.Client) error) error {
	c, err := g.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer g.pool.Put(c)
	return fn(c)
}

// handleIndex handles GET / and POST /.
func (g *Gateway) handleIndex(r *http.Request) (any, error) {
	return map[string]string{
		"service": "keyspace",
		"version": g.config.Version,
	}, nil
}

// handlePing handles POST /ping.
func (g *Gateway) handlePing(r *http.Request) (any, error) {
	err := g.withClient(r.Context(), func(c *protocol.Client) error {
		return c.Ping(r.Context())
	})
	if err != nil {
		return nil, err
	}
	return "PONG", nil
}

// handleHealth handles GET /healthz.
func (g *Gateway) handleHealth(r *http.Request) (any, error) {
	err := g.withClient(r.Context(), func(c *protocol.Client) error {
		return c.Ping(r.Context())
	})
	if err != nil {
		g.logger.WarnContext(r.Context(), "health check failed", "error", err)
		return nil, newAPIError(http.StatusServiceUnavailable, "keyspace server unreachable")
	}
	return "healthy", nil
}

// loginRequest is the body of POST /auth.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the data of a successful POST /auth.
type loginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	Namespaces []string  `json:"namespaces"`
}

// handleAuth handles POST /auth.
func (g *Gateway) handleAuth(r *http.Request) (any, error) {
	var req loginRequest
	if err := g.decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Username == "" {
		return nil, newAPIError(http.StatusBadRequest, "username is required")
	}

	debug.Log(debug.Auth, "login attempt", "user", req.Username, "remote", remoteHost(r))
	if err := g.limiter.Allow(remoteHost(r)); err != nil {
		observability.AuthRejectedTotal.WithLabelValues("http", "rate_limited").Inc()
		return nil, newAPIError(http.StatusTooManyRequests, "%v", err)
	}

	id, err := g.login(r.Context(), req)
	if err != nil {
		return nil, err
	}

	token, expires, err := g.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(r.Context(), "account logged in", "subject", id.Subject)
	return loginResponse{Token: token, ExpiresAt: expires, Namespaces: id.Namespaces}, nil
}

func (g *Gateway) login(ctx context.Context, req loginRequest) (*auth.Identity, error) {
	denied := func(reason string) error {
		observability.AuthRejectedTotal.WithLabelValues("http", reason).Inc()
		return newAPIError(http.StatusUnauthorized, "%v", auth.ErrUnauthenticated)
	}

	if req.Username == auth.MasterAccount {
		if !g.password.Check(req.Password) {
			return nil, denied("password")
		}
		return &auth.Identity{Subject: auth.MasterAccount, Namespaces: []string{auth.AllNamespaces}}, nil
	}

	var table value.Value
	err := g.withClient(ctx, func(c *protocol.Client) error {
		if err := c.Select(ctx, SystemNamespace); err != nil {
			return err
		}
		v, ok, err := c.Get(ctx, AccountsKey)
		if err != nil {
			return err
		}
		if !ok {
			v = value.Dict(nil)
		}
		table = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	accounts, err := auth.ParseAccounts(table)
	if err != nil {
		return nil, err
	}
	id, err := auth.Verify(accounts, req.Username, req.Password)
	if err != nil {
		return nil, denied("account")
	}
	return id, nil
}

// commandRequest is the body of POST /{namespace}/{operation}.
type commandRequest struct {
	Key string `json:"key"`

	// Value is a plain JSON value for set.
	Value json.RawMessage `json:"value,omitempty"`

	// Literal is an alternative to Value in keyspace literal syntax, which
	// can express tuples.
	Literal *string `json:"literal,omitempty"`

	// TTL in seconds; 0 never expires.
	TTL uint64 `json:"ttl,omitempty"`
}

// valueData is the data of a successful get.
type valueData struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Literal string `json:"literal"`
}

// handleCommand handles POST /{namespace}/{operation}.
func (g *Gateway) handleCommand(r *http.Request) (any, error) {
	namespace := r.PathValue("namespace")
	operation := r.PathValue("operation")

	if !auth.IdentityFromContext(r.Context()).Allows(namespace) {
		observability.AuthRejectedTotal.WithLabelValues("http", "namespace").Inc()
		return nil, newAPIError(http.StatusForbidden, "%v: namespace %q", auth.ErrForbidden, namespace)
	}

	var req commandRequest
	if err := g.decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, newAPIError(http.StatusBadRequest, "key is required")
	}

	var run func(ctx context.Context, c *protocol.Client) (any, error)
	switch operation {
	case "get":
		run = func(ctx context.Context, c *protocol.Client) (any, error) {
			v, ok, err := c.Get(ctx, req.Key)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newAPIError(http.StatusNotFound, "key %q not found", req.Key)
			}
			return valueData{Key: req.Key, Type: v.Kind().String(), Value: v.Plain(), Literal: v.String()}, nil
		}
	case "set":
		v, err := req.value()
		if err != nil {
			return nil, err
		}
		run = func(ctx context.Context, c *protocol.Client) (any, error) {
			return nil, c.SetEx(ctx, req.Key, v, req.TTL)
		}
	case "delete":
		run = func(ctx context.Context, c *protocol.Client) (any, error) {
			removed, err := c.Del(ctx, req.Key)
			return map[string]bool{"removed": removed}, err
		}
	case "exists":
		run = func(ctx context.Context, c *protocol.Client) (any, error) {
			found, err := c.Exists(ctx, req.Key)
			return map[string]bool{"exists": found}, err
		}
	default:
		return nil, newAPIError(http.StatusNotFound, "unknown operation %q", operation)
	}

	var data any
	err := g.withClient(r.Context(), func(c *protocol.Client) error {
		if err := c.Select(r.Context(), namespace); err != nil {
			return err
		}
		var err error
		data, err = run(r.Context(), c)
		return err
	})
	if err != nil {
		return nil, g.commandError(err)
	}
	return data, nil
}

// value resolves the value to store from the request.
func (req commandRequest) value() (value.Value, error) {
	switch {
	case req.Literal != nil:
		return value.ParseLiteral(*req.Literal), nil
	case len(req.Value) == 0:
		return value.Value{}, newAPIError(http.StatusBadRequest, "value or literal is required")
	}
	var plain any
	if err := json.Unmarshal(req.Value, &plain); err != nil {
		return value.Value{}, newAPIError(http.StatusBadRequest, "invalid value: %v", err)
	}
	v, err := value.FromPlain(plain)
	if err != nil {
		return value.Value{}, newAPIError(http.StatusBadRequest, "invalid value: %v", err)
	}
	return v, nil
}

// commandError maps wire failures to HTTP responses.
func (g *Gateway) commandError(err error) error {
	switch {
	case errors.Is(err, protocol.ErrBadRequest):
		return newAPIError(http.StatusBadRequest, "%v", err)
	case errors.Is(err, protocol.ErrNamespaceRequired):
		return newAPIError(http.StatusBadRequest, "%v", err)
	}
	return err
}

// remoteHost returns the host part of the request's remote address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
