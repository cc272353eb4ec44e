package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashPassword returns the hex SHA-256 digest under which account
// passwords are stored.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Password checks candidates against a configured secret. Only the hash of
// the secret is kept.
type Password struct {
	hash [32]byte
	set  bool
}

// NewPassword hashes secret. An empty secret disables the check.
func NewPassword(secret string) Password {
	if secret == "" {
		return Password{}
	}
	return Password{hash: sha256.Sum256([]byte(secret)), set: true}
}

// Required reports whether a password is configured.
func (p Password) Required() bool { return p.set }

// Check compares candidate in constant time. With no password configured
// every candidate is accepted.
func (p Password) Check(candidate string) bool {
	if !p.set {
		return true
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(sum[:], p.hash[:]) == 1
}

// CheckHash compares candidate against a hex digest produced by
// HashPassword, in constant time.
func CheckHash(hexDigest, candidate string) bool {
	want, err := hex.DecodeString(hexDigest)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}
