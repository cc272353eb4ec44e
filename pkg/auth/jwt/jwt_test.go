package jwt

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/keyspace/pkg/auth"
)

var testSecret = []byte("test-signing-secret")

// createSignedToken creates a JWT signed with the given secret.
func createSignedToken(t *testing.T, secret []byte, claims jwtlib.MapClaims) string {
	t.Helper()
	tokenStr, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tokenStr
}

func newTestAuthenticator(t *testing.T, cfgOverride func(*Config)) *Authenticator {
	t.Helper()
	cfg := Config{
		Secret: testSecret,
		Issuer: "keyspace",
		TTL:    time.Hour,
	}
	if cfgOverride != nil {
		cfgOverride(&cfg)
	}
	authn, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return authn
}

func authenticate(authn *Authenticator, token string) auth.AuthResult {
	r := httptest.NewRequest("POST", "/cache/get", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return authn.Authenticate(context.Background(), r)
}

func TestJWT_IssueAndAuthenticate(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token, expires, err := authn.Issue(&auth.Identity{Subject: "alice", Namespaces: []string{"cache", "jobs"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if d := time.Until(expires); d < 59*time.Minute || d > time.Hour+time.Minute {
		t.Errorf("expires in %v, want about 1h", d)
	}

	result := authenticate(authn, token)
	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
	if result.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice")
	}
	if !result.Identity.Allows("jobs") || result.Identity.Allows("billing") {
		t.Errorf("Namespaces = %v, want [cache jobs]", result.Identity.Namespaces)
	}
}

func TestJWT_NewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoSecret) {
		t.Errorf("err = %v, want ErrNoSecret", err)
	}
}

func TestJWT_IssueRequiresSubject(t *testing.T) {
	authn := newTestAuthenticator(t, nil)
	if _, _, err := authn.Issue(&auth.Identity{}); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestJWT_ExpiredToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token := createSignedToken(t, testSecret, jwtlib.MapClaims{
		"sub": "alice",
		"iss": "keyspace",
		"exp": time.Now().Add(-1 * time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})

	if result := authenticate(authn, token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No for expired token", result.Decision)
	}
}

func TestJWT_MissingExpiry(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token := createSignedToken(t, testSecret, jwtlib.MapClaims{
		"sub": "alice",
		"iss": "keyspace",
	})

	if result := authenticate(authn, token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No for token without exp", result.Decision)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token := createSignedToken(t, []byte("other-secret"), jwtlib.MapClaims{
		"sub": "alice",
		"iss": "keyspace",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if result := authenticate(authn, token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No for foreign signature", result.Decision)
	}
}

func TestJWT_WrongIssuer(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token := createSignedToken(t, testSecret, jwtlib.MapClaims{
		"sub": "alice",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if result := authenticate(authn, token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No for wrong issuer", result.Decision)
	}
}

func TestJWT_NoIssuerValidation(t *testing.T) {
	authn := newTestAuthenticator(t, func(c *Config) { c.Issuer = "" })

	token := createSignedToken(t, testSecret, jwtlib.MapClaims{
		"sub": "alice",
		"iss": "anything",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if result := authenticate(authn, token); result.Decision != auth.Yes {
		t.Errorf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
}

func TestJWT_NoBearerToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	r := httptest.NewRequest("GET", "/", nil)
	if result := authn.Authenticate(context.Background(), r); result.Decision != auth.Abstain {
		t.Errorf("no header: Decision = %d, want Abstain", result.Decision)
	}

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if result := authn.Authenticate(context.Background(), r); result.Decision != auth.Abstain {
		t.Errorf("basic auth: Decision = %d, want Abstain", result.Decision)
	}
}

func TestJWT_InvalidToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	if result := authenticate(authn, "not-a-jwt"); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
	if result := authenticate(authn, ""); result.Decision != auth.No {
		t.Errorf("empty token: Decision = %d, want No", result.Decision)
	}
}

func TestJWT_MissingSubClaim(t *testing.T) {
	authn := newTestAuthenticator(t, nil)

	token := createSignedToken(t, testSecret, jwtlib.MapClaims{
		"iss": "keyspace",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if result := authenticate(authn, token); result.Decision != auth.No {
		t.Errorf("Decision = %d, want No for missing sub", result.Decision)
	}
}

func TestJWT_NamespacesExtraction(t *testing.T) {
	tests := []struct {
		name  string
		claim interface{}
		want  []string
	}{
		{"space-separated string", "cache jobs", []string{"cache", "jobs"}},
		{"json array", []string{"a", "b"}, []string{"a", "b"}},
		{"wildcard", "*", []string{"*"}},
		{"empty string", "", nil},
		{"number", 12, nil},
	}

	authn := newTestAuthenticator(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := createSignedToken(t, testSecret, jwtlib.MapClaims{
				"sub":        "alice",
				"iss":        "keyspace",
				"exp":        time.Now().Add(time.Hour).Unix(),
				"namespaces": tt.claim,
			})
			result := authenticate(authn, token)
			if result.Decision != auth.Yes {
				t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
			}
			got := result.Identity.Namespaces
			if len(got) != len(tt.want) {
				t.Fatalf("Namespaces = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Namespaces[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestJWT_CustomNamespacesClaim(t *testing.T) {
	authn := newTestAuthenticator(t, func(c *Config) { c.NamespacesClaim = "ns" })

	token, _, err := authn.Issue(&auth.Identity{Subject: "alice", Namespaces: []string{"cache"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := authn.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !id.Allows("cache") {
		t.Errorf("Namespaces = %v, want [cache]", id.Namespaces)
	}
}

func TestJWT_ClockControlsExpiry(t *testing.T) {
	authn := newTestAuthenticator(t, func(c *Config) { c.TTL = time.Minute })

	token, _, err := authn.Issue(&auth.Identity{Subject: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	authn.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := authn.Verify(token); err == nil {
		t.Error("expected token to be expired under advanced clock")
	}
}
