// Package jwt issues and validates the bearer tokens handed out by the HTTP
// gateway after a successful login.
//
// Tokens are HMAC-signed (HS256) with a server secret. The subject claim
// carries the account name and a custom claim lists the namespaces the
// account may use.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/keyspace/pkg/auth"
)

// ErrNoSecret is returned by New when the signing secret is empty.
var ErrNoSecret = errors.New("jwt: signing secret is required")

// Config holds the JWT issuer and authenticator configuration.
type Config struct {
	// Secret signs and verifies tokens. Required.
	Secret []byte

	// Issuer is written to and required in the iss claim. If empty, issuer
	// is neither set nor validated.
	Issuer string

	// TTL is the lifetime of issued tokens. Default: 24 hours.
	TTL time.Duration

	// NamespacesClaim is the claim that lists permitted namespaces.
	// Default: "namespaces". The value can be a space-separated string or a
	// JSON array.
	NamespacesClaim string
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.NamespacesClaim == "" {
		c.NamespacesClaim = "namespaces"
	}
}

// Authenticator issues and validates HS256 bearer tokens.
type Authenticator struct {
	config Config
	now    func() time.Time
}

// New creates a JWT authenticator with the given configuration.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	cfg.applyDefaults()
	return &Authenticator{config: cfg, now: time.Now}, nil
}

// Issue signs a token for id. It returns the token and its expiry.
func (a *Authenticator) Issue(id *auth.Identity) (string, time.Time, error) {
	if id == nil || id.Subject == "" {
		return "", time.Time{}, fmt.Errorf("jwt: identity has no subject")
	}
	now := a.now()
	expires := now.Add(a.config.TTL)

	claims := jwtlib.MapClaims{
		"sub":                    id.Subject,
		"iat":                    now.Unix(),
		"exp":                    expires.Unix(),
		a.config.NamespacesClaim: id.Namespaces,
	}
	if a.config.Issuer != "" {
		claims["iss"] = a.config.Issuer
	}

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expires, nil
}

// Authenticate extracts a bearer token from the Authorization header,
// validates it, and returns an identity on success.
//
// Decision outcomes:
//   - Abstain: no Authorization header or not a Bearer scheme
//   - No: bearer token present but invalid (expired, wrong issuer, bad signature, etc.)
//   - Yes: valid JWT with populated Identity
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("empty bearer token"),
		}
	}

	id, err := a.Verify(tokenStr)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: err}
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

// Verify validates a token and returns the identity it carries.
func (a *Authenticator) Verify(tokenStr string) (*auth.Identity, error) {
	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.config.Secret, nil
	}, a.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid JWT claims")
	}

	subject := claimString(claims, "sub")
	if subject == "" {
		return nil, fmt.Errorf("JWT missing %q claim", "sub")
	}

	return &auth.Identity{
		Subject:    subject,
		Namespaces: extractNamespaces(claims, a.config.NamespacesClaim),
	}, nil
}

// parserOptions builds JWT parser options based on the configuration.
func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(a.now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	return opts
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractNamespaces reads the namespaces claim, which can be either a
// space-separated string or a JSON array.
func extractNamespaces(claims jwtlib.MapClaims, key string) []string {
	val, ok := claims[key]
	if !ok {
		return nil
	}

	if s, ok := val.(string); ok {
		parts := strings.Fields(s)
		if len(parts) == 0 {
			return nil
		}
		return parts
	}

	if arr, ok := val.([]interface{}); ok {
		var namespaces []string
		for _, item := range arr {
			if s, ok := item.(string); ok {
				namespaces = append(namespaces, s)
			}
		}
		return namespaces
	}

	return nil
}
