// Package value defines the closed set of values the store can hold.
//
// A Value is one of seven kinds: None, Boolean, Number, String, List, Dict
// and Tuple. The set is closed; every function in this module that inspects
// a Value switches over all seven kinds, and the only default branch is a
// panic for kinds that cannot exist.
package value

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// ErrConversion is returned when a value cannot be converted to or from a
// host representation (JSON, Lua, plain Go values).
var ErrConversion = errors.New("value conversion failed")

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindList
	KindDict
	KindTuple
)

// String returns the lower-case kind name used in the tagged JSON form.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindTuple:
		return "tuple"
	default:
		panic(unknownKind(k))
	}
}

// ParseKind resolves a kind name produced by Kind.String.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "none":
		return KindNone, nil
	case "boolean":
		return KindBoolean, nil
	case "number":
		return KindNumber, nil
	case "string":
		return KindString, nil
	case "list":
		return KindList, nil
	case "dict":
		return KindDict, nil
	case "tuple":
		return KindTuple, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrConversion, name)
}

// Value is an immutable-by-convention tagged union. The zero Value is None.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	items  []Value
	fields map[string]Value
}

// None returns the None value.
func None() Value { return Value{} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Number returns a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a List holding copies of items.
func List(items ...Value) Value {
	return Value{kind: KindList, items: cloneItems(items)}
}

// Tuple returns a Tuple holding copies of items.
func Tuple(items ...Value) Value {
	return Value{kind: KindTuple, items: cloneItems(items)}
}

// Dict returns a Dict holding copies of fields. A nil map yields an empty Dict.
func Dict(fields map[string]Value) Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = v.Clone()
	}
	return Value{kind: KindDict, fields: out}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsBool returns the boolean payload and whether v is a Boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBoolean }

// AsNumber returns the numeric payload and whether v is a Number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the text payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns a copy of the elements of a List or Tuple, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindList && v.kind != KindTuple {
		return nil
	}
	return cloneItems(v.items)
}

// Len returns the element count of a List, Tuple or Dict and zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList, KindTuple:
		return len(v.items)
	case KindDict:
		return len(v.fields)
	}
	return 0
}

// Fields returns a copy of the entries of a Dict, nil otherwise.
func (v Value) Fields() map[string]Value {
	if v.kind != KindDict {
		return nil
	}
	out := make(map[string]Value, len(v.fields))
	for k, f := range v.fields {
		out[k] = f.Clone()
	}
	return out
}

// Field looks up a single Dict entry.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindDict {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f.Clone(), ok
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindNone, KindBoolean, KindNumber, KindString:
		return v
	case KindList, KindTuple:
		return Value{kind: v.kind, items: cloneItems(v.items)}
	case KindDict:
		return Dict(v.fields)
	default:
		panic(unknownKind(v.kind))
	}
}

// Equal reports deep equality. Dict comparison ignores key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList, KindTuple:
		return slices.EqualFunc(v.items, o.items, Value.Equal)
	case KindDict:
		return maps.EqualFunc(v.fields, o.fields, Value.Equal)
	default:
		panic(unknownKind(v.kind))
	}
}

// String renders v in the literal syntax accepted by ParseLiteral.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v Value) render(sb *strings.Builder) {
	switch v.kind {
	case KindNone:
		sb.WriteString("none")
	case KindBoolean:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindList:
		renderSeq(sb, v.items, "[", "]")
	case KindTuple:
		renderSeq(sb, v.items, "(", ")")
	case KindDict:
		keys := slices.Collect(maps.Keys(v.fields))
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			v.fields[k].render(sb)
		}
		sb.WriteByte('}')
	default:
		panic(unknownKind(v.kind))
	}
}

func renderSeq(sb *strings.Builder, items []Value, open, close string) {
	sb.WriteString(open)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		it.render(sb)
	}
	sb.WriteString(close)
}

func cloneItems(items []Value) []Value {
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func unknownKind(k Kind) string {
	return fmt.Sprintf("value: unknown kind %d", uint8(k))
}
