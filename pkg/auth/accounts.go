package auth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rhuss/keyspace/pkg/value"
)

// MasterAccount authenticates with the server password and may use every
// namespace.
const MasterAccount = "master"

// ErrInvalidAccounts is returned when the stored account table is malformed.
var ErrInvalidAccounts = errors.New("invalid account table")

// Account is a stored HTTP gateway account.
type Account struct {
	// PasswordHash is the hex SHA-256 of the password.
	PasswordHash string

	// Namespaces the account may use; AllNamespaces grants every one.
	Namespaces []string
}

// Identity returns the identity of the account named name.
func (a Account) Identity(name string) *Identity {
	return &Identity{Subject: name, Namespaces: slices.Clone(a.Namespaces)}
}

// ParseAccounts decodes the account table stored in the system namespace:
//
//	{"alice": {"password": "<sha256 hex>", "namespaces": ["a", "b"]},
//	 "ops":   {"password": "<sha256 hex>", "namespaces": "*"}}
func ParseAccounts(v value.Value) (map[string]Account, error) {
	if v.Kind() != value.KindDict {
		return nil, fmt.Errorf("%w: table is a %s, want dict", ErrInvalidAccounts, v.Kind())
	}

	accounts := make(map[string]Account, v.Len())
	for name, raw := range v.Fields() {
		if raw.Kind() != value.KindDict {
			return nil, fmt.Errorf("%w: account %q is a %s", ErrInvalidAccounts, name, raw.Kind())
		}
		pw, _ := raw.Field("password")
		hash, ok := pw.AsString()
		if !ok {
			return nil, fmt.Errorf("%w: account %q has no password", ErrInvalidAccounts, name)
		}
		nsField, _ := raw.Field("namespaces")
		namespaces, err := parseNamespaces(nsField)
		if err != nil {
			return nil, fmt.Errorf("%w: account %q: %v", ErrInvalidAccounts, name, err)
		}
		accounts[name] = Account{PasswordHash: hash, Namespaces: namespaces}
	}
	return accounts, nil
}

func parseNamespaces(v value.Value) ([]string, error) {
	switch v.Kind() {
	case value.KindNone:
		return nil, nil
	case value.KindString:
		s, _ := v.AsString()
		return []string{s}, nil
	case value.KindList, value.KindTuple:
		items := v.Items()
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.AsString()
			if !ok {
				return nil, fmt.Errorf("namespace entry is a %s", it.Kind())
			}
			out = append(out, s)
		}
		return out, nil
	case value.KindBoolean, value.KindNumber, value.KindDict:
		return nil, fmt.Errorf("namespaces is a %s", v.Kind())
	default:
		panic(fmt.Sprintf("auth: unknown value kind %d", v.Kind()))
	}
}

// AccountsValue encodes accounts in the form ParseAccounts reads.
func AccountsValue(accounts map[string]Account) value.Value {
	fields := make(map[string]value.Value, len(accounts))
	for name, a := range accounts {
		ns := make([]value.Value, len(a.Namespaces))
		for i, n := range a.Namespaces {
			ns[i] = value.String(n)
		}
		fields[name] = value.Dict(map[string]value.Value{
			"password":   value.String(a.PasswordHash),
			"namespaces": value.List(ns...),
		})
	}
	return value.Dict(fields)
}

// Verify checks username and password against accounts and returns the
// matching identity.
func Verify(accounts map[string]Account, username, password string) (*Identity, error) {
	a, ok := accounts[username]
	if !ok || !CheckHash(a.PasswordHash, password) {
		return nil, ErrUnauthenticated
	}
	return a.Identity(username), nil
}
