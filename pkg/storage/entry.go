package storage

import (
	"encoding/json"
	"time"

	"github.com/rhuss/keyspace/pkg/value"
)

// Entry is a stored value plus its expiration time. A zero ExpireAt means
// the entry never expires.
type Entry struct {
	Value    value.Value
	ExpireAt time.Time
}

// NewEntry builds an Entry for v that expires ttl after now. A ttl of zero
// or less yields an entry that never expires.
func NewEntry(v value.Value, ttl time.Duration, now time.Time) Entry {
	e := Entry{Value: v.Clone()}
	if ttl > 0 {
		e.ExpireAt = now.Add(ttl)
	}
	return e
}

// Expired reports whether the entry has an expiration time and now is past it.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpireAt.IsZero() && now.After(e.ExpireAt)
}

// entryRecord is the persisted JSON shape of an Entry.
type entryRecord struct {
	Value    value.Value `json:"value"`
	ExpireAt *time.Time  `json:"expire_at,omitempty"`
}

// MarshalJSON encodes the entry with its value in tagged form and the
// expiration as RFC 3339, omitted when the entry never expires.
func (e Entry) MarshalJSON() ([]byte, error) {
	rec := entryRecord{Value: e.Value}
	if !e.ExpireAt.IsZero() {
		t := e.ExpireAt.UTC()
		rec.ExpireAt = &t
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	e.Value = rec.Value
	e.ExpireAt = time.Time{}
	if rec.ExpireAt != nil {
		e.ExpireAt = *rec.ExpireAt
	}
	return nil
}
