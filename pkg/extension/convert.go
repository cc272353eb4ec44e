package extension

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/rhuss/keyspace/pkg/value"
)

// Metatable names tagging converted containers with their kind.
const (
	listTypeName  = "keyspace.list"
	tupleTypeName = "keyspace.tuple"
	dictTypeName  = "keyspace.dict"
	nullTypeName  = "keyspace.null"

	kindField = "__kind"
)

// maxDepth bounds nesting during conversion; deeper tables are assumed to
// be cyclic.
const maxDepth = 64

// converter translates between values and Lua values for one state.
type converter struct {
	L    *lua.LState
	null *lua.LUserData
}

func newConverter(L *lua.LState) *converter {
	for _, k := range []value.Kind{value.KindList, value.KindTuple, value.KindDict} {
		mt := L.NewTypeMetatable(typeName(k))
		L.SetField(mt, kindField, lua.LString(k.String()))
	}

	null := L.NewUserData()
	nullMT := L.NewTypeMetatable(nullTypeName)
	L.SetField(nullMT, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("null"))
		return 1
	}))
	L.SetMetatable(null, nullMT)

	return &converter{L: L, null: null}
}

func typeName(k value.Kind) string {
	switch k {
	case value.KindList:
		return listTypeName
	case value.KindTuple:
		return tupleTypeName
	case value.KindDict:
		return dictTypeName
	}
	return ""
}

// toLua converts v. None becomes nil at the top level and the null sentinel
// inside containers, so sequences keep their length.
func (c *converter) toLua(v value.Value) lua.LValue {
	return c.convert(v, false)
}

func (c *converter) convert(v value.Value, nested bool) lua.LValue {
	switch v.Kind() {
	case value.KindNone:
		if nested {
			return c.null
		}
		return lua.LNil
	case value.KindBoolean:
		b, _ := v.AsBool()
		return lua.LBool(b)
	case value.KindNumber:
		n, _ := v.AsNumber()
		return lua.LNumber(n)
	case value.KindString:
		s, _ := v.AsString()
		return lua.LString(s)
	case value.KindList, value.KindTuple:
		tbl := c.L.NewTable()
		for i, item := range v.Items() {
			tbl.RawSetInt(i+1, c.convert(item, true))
		}
		c.L.SetMetatable(tbl, c.L.GetTypeMetatable(typeName(v.Kind())))
		return tbl
	case value.KindDict:
		tbl := c.L.NewTable()
		for k, item := range v.Fields() {
			tbl.RawSetString(k, c.convert(item, true))
		}
		c.L.SetMetatable(tbl, c.L.GetTypeMetatable(dictTypeName))
		return tbl
	default:
		panic(fmt.Sprintf("extension: unknown value kind %d", v.Kind()))
	}
}

// fromLua converts a Lua value. Functions, userdata other than the null
// sentinel, threads, channels, non-finite numbers and non-string dict keys
// fail with value.ErrConversion.
func (c *converter) fromLua(lv lua.LValue) (value.Value, error) {
	return c.from(lv, 0)
}

func (c *converter) from(lv lua.LValue, depth int) (value.Value, error) {
	if depth > maxDepth {
		return value.Value{}, fmt.Errorf("%w: table nesting exceeds %d levels", value.ErrConversion, maxDepth)
	}

	switch lv.Type() {
	case lua.LTNil:
		return value.None(), nil
	case lua.LTBool:
		return value.Bool(lua.LVAsBool(lv)), nil
	case lua.LTNumber:
		n := float64(lv.(lua.LNumber))
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return value.Value{}, fmt.Errorf("%w: non-finite number", value.ErrConversion)
		}
		return value.Number(n), nil
	case lua.LTString:
		return value.String(string(lv.(lua.LString))), nil
	case lua.LTUserData:
		if lv == c.null {
			return value.None(), nil
		}
		return value.Value{}, fmt.Errorf("%w: userdata", value.ErrConversion)
	case lua.LTTable:
		return c.fromTable(lv.(*lua.LTable), depth)
	case lua.LTFunction, lua.LTThread, lua.LTChannel:
		return value.Value{}, fmt.Errorf("%w: %s", value.ErrConversion, lv.Type())
	default:
		return value.Value{}, fmt.Errorf("%w: %s", value.ErrConversion, lv.Type())
	}
}

func (c *converter) fromTable(tbl *lua.LTable, depth int) (value.Value, error) {
	switch c.tag(tbl) {
	case value.KindList:
		items, err := c.sequence(tbl, depth, true)
		if err != nil {
			return value.Value{}, err
		}
		return value.List(items...), nil
	case value.KindTuple:
		items, err := c.sequence(tbl, depth, true)
		if err != nil {
			return value.Value{}, err
		}
		return value.Tuple(items...), nil
	case value.KindDict:
		return c.dict(tbl, depth)
	}

	// Untagged: a sequence is a List, anything else a Dict.
	if isSequence(tbl) {
		items, err := c.sequence(tbl, depth, false)
		if err != nil {
			return value.Value{}, err
		}
		return value.List(items...), nil
	}
	return c.dict(tbl, depth)
}

// tag returns the kind a converted table was tagged with, or KindNone.
func (c *converter) tag(tbl *lua.LTable) value.Kind {
	mt, ok := c.L.GetMetatable(tbl).(*lua.LTable)
	if !ok {
		return value.KindNone
	}
	name, ok := mt.RawGetString(kindField).(lua.LString)
	if !ok {
		return value.KindNone
	}
	k, err := value.ParseKind(string(name))
	if err != nil {
		return value.KindNone
	}
	return k
}

// sequence reads integer keys 1..n, where n is the largest integer key.
// Holes become None. When strict, any other key is an error.
func (c *converter) sequence(tbl *lua.LTable, depth int, strict bool) ([]value.Value, error) {
	n := 0
	var badKey lua.LValue
	tbl.ForEach(func(k, _ lua.LValue) {
		if i, ok := intKey(k); ok && i >= 1 {
			n = max(n, i)
			return
		}
		if badKey == nil {
			badKey = k
		}
	})
	if strict && badKey != nil {
		return nil, fmt.Errorf("%w: sequence has key %s", value.ErrConversion, badKey.String())
	}

	items := make([]value.Value, n)
	for i := 1; i <= n; i++ {
		item, err := c.from(tbl.RawGetInt(i), depth+1)
		if err != nil {
			return nil, err
		}
		items[i-1] = item
	}
	return items, nil
}

func (c *converter) dict(tbl *lua.LTable, depth int) (value.Value, error) {
	fields := make(map[string]value.Value)
	var keys []string
	var convErr error
	tbl.ForEach(func(k, _ lua.LValue) {
		if convErr != nil {
			return
		}
		s, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("%w: dict key of type %s", value.ErrConversion, k.Type())
			return
		}
		keys = append(keys, string(s))
	})
	if convErr != nil {
		return value.Value{}, convErr
	}

	sort.Strings(keys)
	for _, k := range keys {
		item, err := c.from(tbl.RawGetString(k), depth+1)
		if err != nil {
			return value.Value{}, err
		}
		fields[k] = item
	}
	return value.Dict(fields), nil
}

// isSequence reports whether every key is an integer in 1..count. The
// empty table counts as a sequence.
func isSequence(tbl *lua.LTable) bool {
	count, maxKey := 0, 0
	seq := true
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		i, ok := intKey(k)
		if !ok || i < 1 {
			seq = false
			return
		}
		maxKey = max(maxKey, i)
	})
	return seq && maxKey == count
}

func intKey(k lua.LValue) (int, bool) {
	n, ok := k.(lua.LNumber)
	if !ok {
		return 0, false
	}
	f := float64(n)
	if f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
