package auth

import (
	"errors"
	"testing"

	"github.com/rhuss/keyspace/pkg/value"
)

func TestPassword(t *testing.T) {
	p := NewPassword("s3cret")
	if !p.Required() {
		t.Error("Required() = false for a configured password")
	}
	if !p.Check("s3cret") {
		t.Error("correct password rejected")
	}
	if p.Check("S3cret") || p.Check("") {
		t.Error("wrong password accepted")
	}

	open := NewPassword("")
	if open.Required() {
		t.Error("Required() = true without a password")
	}
	if !open.Check("whatever") {
		t.Error("open server rejected a candidate")
	}
}

func TestCheckHash(t *testing.T) {
	h := HashPassword("pw")
	if len(h) != 64 {
		t.Fatalf("HashPassword length = %d, want 64", len(h))
	}
	if !CheckHash(h, "pw") {
		t.Error("CheckHash rejected the matching password")
	}
	if CheckHash(h, "other") {
		t.Error("CheckHash accepted a different password")
	}
	if CheckHash("not-hex", "pw") {
		t.Error("CheckHash accepted a malformed digest")
	}
}

func TestParseAccounts(t *testing.T) {
	table := value.Dict(map[string]value.Value{
		"alice": value.Dict(map[string]value.Value{
			"password":   value.String(HashPassword("a")),
			"namespaces": value.List(value.String("cache"), value.String("jobs")),
		}),
		"ops": value.Dict(map[string]value.Value{
			"password":   value.String(HashPassword("o")),
			"namespaces": value.String(AllNamespaces),
		}),
	})

	accounts, err := ParseAccounts(table)
	if err != nil {
		t.Fatalf("ParseAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("len = %d, want 2", len(accounts))
	}

	id, err := Verify(accounts, "alice", "a")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !id.Allows("jobs") || id.Allows("billing") {
		t.Errorf("alice namespaces = %v", id.Namespaces)
	}

	id, err = Verify(accounts, "ops", "o")
	if err != nil {
		t.Fatalf("Verify ops: %v", err)
	}
	if !id.Allows("billing") {
		t.Error("ops should be allowed everywhere")
	}

	if _, err := Verify(accounts, "alice", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("wrong password: err = %v, want ErrUnauthenticated", err)
	}
	if _, err := Verify(accounts, "mallory", "a"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("unknown user: err = %v, want ErrUnauthenticated", err)
	}
}

func TestParseAccounts_Invalid(t *testing.T) {
	cases := map[string]value.Value{
		"not a dict": value.List(),
		"account not a dict": value.Dict(map[string]value.Value{
			"alice": value.String("x"),
		}),
		"missing password": value.Dict(map[string]value.Value{
			"alice": value.Dict(nil),
		}),
		"bad namespaces": value.Dict(map[string]value.Value{
			"alice": value.Dict(map[string]value.Value{
				"password":   value.String("x"),
				"namespaces": value.List(value.Number(1)),
			}),
		}),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseAccounts(v); !errors.Is(err, ErrInvalidAccounts) {
				t.Errorf("err = %v, want ErrInvalidAccounts", err)
			}
		})
	}
}

func TestAccountsValueRoundTrip(t *testing.T) {
	in := map[string]Account{
		"alice": {PasswordHash: HashPassword("a"), Namespaces: []string{"cache"}},
	}
	out, err := ParseAccounts(AccountsValue(in))
	if err != nil {
		t.Fatalf("ParseAccounts: %v", err)
	}
	if out["alice"].PasswordHash != in["alice"].PasswordHash {
		t.Error("password hash changed")
	}
	if len(out["alice"].Namespaces) != 1 || out["alice"].Namespaces[0] != "cache" {
		t.Errorf("namespaces = %v", out["alice"].Namespaces)
	}
}

func TestAttemptLimiter(t *testing.T) {
	l := NewAttemptLimiter(1, 2)

	for i := 0; i < 2; i++ {
		if err := l.Allow("s1"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := l.Allow("s1"); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("third attempt: err = %v, want ErrTooManyRequests", err)
	}

	// Keys are independent.
	if err := l.Allow("s2"); err != nil {
		t.Errorf("other key: %v", err)
	}

}

func TestAttemptLimiter_ChargesFailuresOnly(t *testing.T) {
	l := NewAttemptLimiter(1, 2)

	if l.Blocked("10.0.0.1") {
		t.Fatal("unseen key is blocked")
	}
	l.Fail("10.0.0.1")
	if l.Blocked("10.0.0.1") {
		t.Fatal("blocked after one of two failures")
	}
	l.Fail("10.0.0.1")
	if !l.Blocked("10.0.0.1") {
		t.Error("not blocked after exhausting the burst")
	}
	if l.Blocked("10.0.0.2") {
		t.Error("other key blocked")
	}
}

func TestAttemptLimiter_Disabled(t *testing.T) {
	l := NewAttemptLimiter(0, 0)
	if l != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	for i := 0; i < 100; i++ {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("nil limiter rejected attempt %d", i+1)
		}
	}
	l.Fail("k")
	if l.Blocked("k") {
		t.Error("nil limiter blocked a key")
	}
}
