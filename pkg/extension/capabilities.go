package extension

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/rhuss/keyspace/pkg/gateway"
)

const namespaceTypeName = "keyspace.namespace"

// installCapabilities exposes the keyspace, log and config globals.
func (s *Sandbox) installCapabilities() {
	L := s.state

	mt := L.NewTypeMetatable(namespaceTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"name":   nsName,
		"set":    s.nsSet,
		"get":    s.nsGet,
		"delete": s.nsDelete,
		"exists": s.nsExists,
	}))

	ks := L.NewTable()
	L.SetField(ks, "open", L.NewFunction(s.open))
	L.SetField(ks, "null", s.conv.null)
	L.SetGlobal("keyspace", ks)

	logTbl := L.NewTable()
	for name, level := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		L.SetField(logTbl, name, L.NewFunction(s.logAt(level)))
	}
	L.SetGlobal("log", logTbl)

	L.SetGlobal("config", s.configTable())
}

// configTable builds a read-only proxy over the static settings. pairs()
// does not see through the proxy; config.keys() lists the names instead.
func (s *Sandbox) configTable() *lua.LTable {
	L := s.state
	inner := L.NewTable()
	names := make([]string, 0, len(s.config.Settings))
	for k, v := range s.config.Settings {
		inner.RawSetString(k, lua.LString(v))
		names = append(names, k)
	}
	sort.Strings(names)
	L.SetField(inner, "keys", L.NewFunction(func(L *lua.LState) int {
		list := L.CreateTable(len(names), 0)
		for i, n := range names {
			list.RawSetInt(i+1, lua.LString(n))
		}
		L.Push(list)
		return 1
	}))

	proxy := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", inner)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("config is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LFalse)
	L.SetMetatable(proxy, mt)
	return proxy
}

func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func checkNamespace(L *lua.LState) *gateway.Namespace {
	ud := L.CheckUserData(1)
	if ns, ok := ud.Value.(*gateway.Namespace); ok {
		return ns
	}
	L.ArgError(1, "namespace handle expected")
	return nil
}

// open implements keyspace.open(name).
func (s *Sandbox) open(L *lua.LState) int {
	name := L.CheckString(1)
	ns, err := s.access.Open(callContext(L), name)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	ud := L.NewUserData()
	ud.Value = ns
	L.SetMetatable(ud, L.GetTypeMetatable(namespaceTypeName))
	L.Push(ud)
	return 1
}

func nsName(L *lua.LState) int {
	L.Push(lua.LString(checkNamespace(L).Name()))
	return 1
}

// nsSet implements handle:set(key, value [, ttl]). A missing ttl stores
// the entry without expiry.
func (s *Sandbox) nsSet(L *lua.LState) int {
	ns := checkNamespace(L)
	key := L.CheckString(2)
	v, err := s.conv.fromLua(L.CheckAny(3))
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	ttl := float64(L.OptNumber(4, 0))
	if ttl < 0 || math.IsNaN(ttl) {
		L.ArgError(4, "ttl must be a non-negative number")
		return 0
	}
	ttlSeconds := uint64(math.MaxUint64)
	if ttl < math.MaxUint64 {
		ttlSeconds = uint64(ttl)
	}
	if err := ns.Set(callContext(L), key, v, ttlSeconds); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// nsGet implements handle:get(key), returning the value and whether it
// was present.
func (s *Sandbox) nsGet(L *lua.LState) int {
	ns := checkNamespace(L)
	v, ok, err := ns.Get(callContext(L), L.CheckString(2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(s.conv.toLua(v))
	L.Push(lua.LBool(ok))
	return 2
}

func (s *Sandbox) nsDelete(L *lua.LState) int {
	ns := checkNamespace(L)
	removed, err := ns.Delete(callContext(L), L.CheckString(2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LBool(removed))
	return 1
}

func (s *Sandbox) nsExists(L *lua.LState) int {
	ns := checkNamespace(L)
	found, err := ns.Exists(callContext(L), L.CheckString(2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LBool(found))
	return 1
}

// logAt returns a log function joining its arguments with spaces.
func (s *Sandbox) logAt(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.logger.Log(callContext(L), level, strings.Join(parts, " "))
		return 0
	}
}
