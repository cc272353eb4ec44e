// Package debug provides category-based debug logging for keyspace.
//
// Categories select WHAT is traced and are set with KEYSPACE_DEBUG or the
// log.debug config field. The slog level still decides HOW MUCH: Log
// writes at debug level, Trace below it.
//
//	debug.Log(debug.Protocol, "frame", "op", req.Op, "args", len(req.Args))
//	if debug.Enabled(debug.Extension) { /* expensive formatting */ }
//
// Categories: protocol, storage, extension, gateway, auth, all.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Known categories.
const (
	Protocol  = "protocol"
	Storage   = "storage"
	Extension = "extension"
	Gateway   = "gateway"
	Auth      = "auth"
	All       = "all"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, frame payloads and script results are logged in full.
const LevelTrace = slog.LevelDebug - 4

// categories holds the enabled set. It is replaced wholesale by Init.
var categories atomic.Pointer[map[string]bool]

// rawOut receives Raw output.
var rawOut io.Writer = os.Stderr

func init() {
	set(parseCategories(os.Getenv("KEYSPACE_DEBUG")))
}

func set(m map[string]bool) { categories.Store(&m) }

func enabledSet() map[string]bool {
	if m := categories.Load(); m != nil {
		return *m
	}
	return nil
}

// Init configures the enabled categories. KEYSPACE_DEBUG overrides the
// configured value.
func Init(configCategories string) {
	cats := os.Getenv("KEYSPACE_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	set(parseCategories(cats))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	m := enabledSet()
	return m[All] || m[category]
}

// Log emits a debug message for the given category through the default
// logger. If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when the log level is TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes plain text to stderr without any slog formatting, for
// copy-paste-ready dumps. Only emitted when category is enabled AND level
// is TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(rawOut, text)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	m := enabledSet()
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
