package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// tagged is the canonical JSON form of a Value.
type tagged struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v in the tagged form {"type": "<kind>", "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		payload any
		err     error
	)
	switch v.kind {
	case KindNone:
		return []byte(`{"type":"none"}`), nil
	case KindBoolean:
		payload = v.b
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("%w: number %v has no JSON form", ErrConversion, v.n)
		}
		payload = v.n
	case KindString:
		payload = v.s
	case KindList, KindTuple:
		payload = v.items
	case KindDict:
		payload = v.fields
	default:
		panic(unknownKind(v.kind))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tagged{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var t tagged
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	kind, err := ParseKind(t.Type)
	if err != nil {
		return err
	}

	out := Value{kind: kind}
	switch kind {
	case KindNone:
	case KindBoolean:
		err = json.Unmarshal(t.Value, &out.b)
	case KindNumber:
		err = json.Unmarshal(t.Value, &out.n)
	case KindString:
		err = json.Unmarshal(t.Value, &out.s)
	case KindList, KindTuple:
		out.items = []Value{}
		if len(t.Value) > 0 {
			err = json.Unmarshal(t.Value, &out.items)
		}
	case KindDict:
		out.fields = map[string]Value{}
		if len(t.Value) > 0 {
			err = json.Unmarshal(t.Value, &out.fields)
		}
	default:
		panic(unknownKind(kind))
	}
	if err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrConversion, kind, err)
	}
	if out.fields == nil && kind == KindDict {
		out.fields = map[string]Value{}
	}
	*v = out
	return nil
}

// Encode returns the tagged JSON encoding of v.
func Encode(v Value) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses the tagged JSON encoding produced by Encode.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}
