// Package observability provides the kernel's ambient logging, metrics,
// and tracing, adapted from the teacher's pkg/logger and pkg/observability:
// the same filtering-handler-over-slog approach, and the same
// Prometheus-registry-plus-OTel-tracer composition, re-pointed at the
// kernel's own subsystems (scheduler, pager, quota, breaker) instead of
// the teacher's agent/LLM/session metrics.
package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const kernelPackagePrefix = "github.com/agentkernel/agentkernel"

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// filteringHandler suppresses third-party library log noise unless the
// configured level is DEBUG.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if isKernelCaller(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func isKernelCaller(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.Contains(fn.Name(), kernelPackagePrefix)
}

var defaultLogger *slog.Logger

// Init installs a process-wide structured logger at the given level,
// filtering third-party noise below debug.
func Init(level slog.Level, output *os.File) *slog.Logger {
	base := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	handler := &filteringHandler{handler: base, minLevel: level}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// Logger returns the process-wide logger, initializing a default one
// (INFO, stderr) if Init was never called.
func Logger() *slog.Logger {
	if defaultLogger == nil {
		return Init(slog.LevelInfo, os.Stderr)
	}
	return defaultLogger
}
