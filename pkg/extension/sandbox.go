package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/rhuss/keyspace/pkg/debug"
	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/observability"
)

// DefaultEntry is the script loaded from the extension root.
const DefaultEntry = "init.lua"

// Hook names as seen by scripts.
const (
	hookOnLoad      = "on_load"
	hookCallCommand = "call_command"
)

var (
	// ErrUnavailable reports that no usable extension is installed, or that
	// its entry script failed to load. The sandbox stays unavailable for the
	// process lifetime.
	ErrUnavailable = errors.New("extension unavailable")

	// ErrRuntime wraps failures raised while running extension code.
	ErrRuntime = errors.New("extension runtime error")
)

// Config locates the extension and carries its static settings.
type Config struct {
	// Root is the extension directory. Scripts can only require modules
	// below it.
	Root string

	// Entry is the entry script relative to Root. Defaults to DefaultEntry.
	Entry string

	// Settings is exposed to scripts as the read-only config table.
	Settings map[string]string
}

// Sandbox runs one Lua extension. It is safe for concurrent use; calls into
// the script are serialized.
type Sandbox struct {
	config Config
	access *gateway.Access
	logger *slog.Logger

	// unavailable holds the reason the sandbox is off. Once set it never
	// clears.
	unavailable atomic.Pointer[error]

	mu     sync.Mutex
	state  *lua.LState
	conv   *converter
	hooks  map[string]*lua.LFunction
	loaded bool
	closed bool
}

// New prepares the sandbox for the extension at cfg.Root. A missing root
// or entry script leaves the sandbox unavailable, which is not an error:
// every hook then succeeds without doing anything.
func New(cfg Config, access *gateway.Access, logger *slog.Logger) *Sandbox {
	if cfg.Entry == "" {
		cfg.Entry = DefaultEntry
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sandbox{
		config: cfg,
		access: access,
		logger: logger.With(slog.String("extension", cfg.Root)),
	}

	if err := checkRoot(cfg); err != nil {
		s.unavailable.Store(&err)
		s.logger.Info("extension unavailable", slog.String("reason", err.Error()))
		return s
	}

	s.state = s.newState()
	s.conv = newConverter(s.state)
	s.installCapabilities()
	return s
}

func checkRoot(cfg Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("%w: no extension root configured", ErrUnavailable)
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, cfg.Root)
	}
	entry, err := os.Stat(filepath.Join(cfg.Root, cfg.Entry))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if entry.IsDir() {
		return fmt.Errorf("%w: entry %s is a directory", ErrUnavailable, cfg.Entry)
	}
	return nil
}

// newState opens a state with the safe subset of the standard libraries.
func (s *Sandbox) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	root, err := filepath.Abs(s.config.Root)
	if err != nil {
		root = s.config.Root
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(
			filepath.Join(root, "?.lua")+";"+filepath.Join(root, "?", "init.lua")))
	}
	return L
}

// Err returns the reason the sandbox is unavailable, or nil.
func (s *Sandbox) Err() error {
	if p := s.unavailable.Load(); p != nil {
		return *p
	}
	return nil
}

// Available reports whether an extension is installed and loaded cleanly.
func (s *Sandbox) Available() bool { return s.unavailable.Load() == nil }

// OnLoad runs the entry script and then its on_load hook. It only does work
// on the first call. If either fails the error is returned and the sandbox
// becomes unavailable: the state is closed and later hooks are no-ops.
func (s *Sandbox) OnLoad(ctx context.Context) error {
	if !s.Available() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Available() {
		return nil
	}
	if s.closed {
		return fmt.Errorf("%w: sandbox closed", ErrRuntime)
	}
	if s.loaded {
		return nil
	}

	err := s.withContext(ctx, func() error {
		if err := s.loadEntry(); err != nil {
			return err
		}
		s.loaded = true
		fn, ok := s.hooks[hookOnLoad]
		if !ok {
			return nil
		}
		return s.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	s.record(hookOnLoad, err)
	if err != nil {
		s.disableLocked(err)
		return fmt.Errorf("%w: %s: %v", ErrRuntime, hookOnLoad, err)
	}
	s.logger.Info("extension loaded")
	return nil
}

// loadEntry executes the entry script and resolves the hooks from its
// returned table, falling back to globals.
func (s *Sandbox) loadEntry() error {
	L := s.state
	fn, err := L.LoadFile(filepath.Join(s.config.Root, s.config.Entry))
	if err != nil {
		return err
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return err
	}
	ret := L.Get(-1)
	L.Pop(1)

	s.hooks = make(map[string]*lua.LFunction, 2)
	for _, name := range []string{hookOnLoad, hookCallCommand} {
		var hook lua.LValue = lua.LNil
		if tbl, ok := ret.(*lua.LTable); ok {
			hook = tbl.RawGetString(name)
		}
		if hook == lua.LNil {
			hook = L.GetGlobal(name)
		}
		switch h := hook.(type) {
		case *lua.LFunction:
			s.hooks[name] = h
		case *lua.LNilType:
		default:
			return fmt.Errorf("%s is a %s, not a function", name, hook.Type())
		}
	}
	return nil
}

// CallCommand invokes call_command(name, {args...}) and returns its result
// as a string. A nil result is the empty string.
func (s *Sandbox) CallCommand(ctx context.Context, name string, args []string) (string, error) {
	if !s.Available() {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Available() {
		return "", nil
	}
	if s.closed {
		return "", fmt.Errorf("%w: sandbox closed", ErrRuntime)
	}
	if !s.loaded {
		return "", fmt.Errorf("%w: extension not loaded", ErrRuntime)
	}
	fn, ok := s.hooks[hookCallCommand]
	if !ok {
		err := fmt.Errorf("%w: no %s hook", ErrRuntime, hookCallCommand)
		s.record(hookCallCommand, err)
		return "", err
	}

	var out string
	err := s.withContext(ctx, func() error {
		L := s.state
		argv := L.CreateTable(len(args), 0)
		for i, a := range args {
			argv.RawSetInt(i+1, lua.LString(a))
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(name), argv); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)

		switch r := ret.(type) {
		case lua.LString:
			out = string(r)
		case *lua.LNilType:
		case lua.LNumber, lua.LBool:
			out = r.String()
		default:
			return fmt.Errorf("%s returned a %s", hookCallCommand, ret.Type())
		}
		return nil
	})
	s.record(hookCallCommand, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q: %v", ErrRuntime, hookCallCommand, name, err)
	}
	debug.Log(debug.Extension, "command handled",
		"name", name,
		"args", len(args),
		"result", debug.Truncate(out, 200),
	)
	return out, nil
}

// Close releases the Lua state.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil && !s.closed {
		s.closed = true
		s.state.Close()
	}
}

// disableLocked turns the sandbox off after a failed load and releases the
// state. s.mu must be held.
func (s *Sandbox) disableLocked(cause error) {
	err := fmt.Errorf("%w: %v", ErrUnavailable, cause)
	s.unavailable.Store(&err)
	s.hooks = nil
	s.loaded = false
	if !s.closed {
		s.closed = true
		s.state.Close()
	}
	s.logger.Warn("extension disabled", slog.String("reason", err.Error()))
}

// withContext binds ctx to the state for the duration of fn so long-running
// scripts stop when the caller gives up.
func (s *Sandbox) withContext(ctx context.Context, fn func() error) error {
	s.state.SetContext(ctx)
	defer s.state.RemoveContext()
	return fn()
}

func (s *Sandbox) record(hook string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Warn("extension hook failed",
			slog.String("hook", hook),
			slog.String("error", err.Error()),
		)
	}
	observability.ExtensionCallsTotal.WithLabelValues(hook, status).Inc()
}
