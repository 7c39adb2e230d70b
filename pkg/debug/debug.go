// Package debug provides category-based debug logging for stepwise.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via STEPWISE_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via STEPWISE_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log(debug.Sequence, "advance", "session_id", id, "index", idx)
//	if debug.Enabled(debug.Storage) { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Debug categories.
const (
	Orchestration = "orchestration"
	Sequence      = "sequence"
	Storage       = "storage"
	Session       = "session"
	Transport     = "transport"
	Auth          = "auth"
	Config        = "config"
	MCP           = "mcp"
	All           = "all"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, serialized state records are logged in full.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	// Initialize from environment for immediate availability.
	// Can be re-initialized later via Init() with config values.
	categories = parseCategories(os.Getenv("STEPWISE_DEBUG"))
}

// Options carries the logging settings from config.
type Options struct {
	Categories string
	Level      string
	Format     string // "text" or "json"
}

// Init configures the debug system and installs the default slog handler.
// Environment overrides config.
func Init(opts Options) {
	InitWriter(os.Stderr, opts)
}

// InitWriter is Init with an explicit output, used by tests.
func InitWriter(w io.Writer, opts Options) {
	cats := os.Getenv("STEPWISE_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	categories = parseCategories(cats)

	level := os.Getenv("STEPWISE_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories[All] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when STEPWISE_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !TraceIsEnabled(category) {
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
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	slices.Sort(result)
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
