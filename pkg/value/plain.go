package value

import (
	"fmt"
)

// Plain converts v to untagged Go values: nil, bool, float64, string,
// []any and map[string]any. Tuples become []any, so Plain is lossy for
// Tuple; use the tagged JSON form when the kind must survive.
func (v Value) Plain() any {
	switch v.kind {
	case KindNone:
		return nil
	case KindBoolean:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList, KindTuple:
		out := make([]any, len(v.items))
		for i, it := range v.items {
			out[i] = it.Plain()
		}
		return out
	case KindDict:
		out := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			out[k] = f.Plain()
		}
		return out
	default:
		panic(unknownKind(v.kind))
	}
}

// FromPlain converts untagged Go values (as produced by encoding/json or
// Plain) to a Value. Slices become Lists and string-keyed maps become Dicts.
func FromPlain(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return None(), nil
	case Value:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, items: items}, nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			item, err := FromPlain(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = item
		}
		return Value{kind: KindList, items: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			f, err := FromPlain(e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = f
		}
		return Value{kind: KindDict, fields: fields}, nil
	}
	return Value{}, fmt.Errorf("%w: unsupported type %T", ErrConversion, x)
}
