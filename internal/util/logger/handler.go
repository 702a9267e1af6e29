package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

// ============================================================================
//                              输出目标
// ============================================================================

type sinkRef struct{ w io.Writer }

// sink 所有子系统共享的输出，SetOutput 切换后已创建的 Logger 立即生效
var sink atomic.Pointer[sinkRef]

func init() {
	sink.Store(&sinkRef{w: os.Stderr})
}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	return sink.Load().w.Write(p)
}

// ============================================================================
//                              子系统 Handler
// ============================================================================

// redactedKeys 凭据类字段，任何子系统都不输出原值
var redactedKeys = map[string]struct{}{
	"token":      {},
	"auth_token": {},
	"password":   {},
}

// subsystemHandler 带子系统标签、级别可动态调整的 Handler
type subsystemHandler struct {
	level *slog.LevelVar
	inner slog.Handler
}

func newHandler(subsystem string, level slog.Level, cfg *Config) *subsystemHandler {
	lv := new(slog.LevelVar)
	lv.Set(level)

	opts := &slog.HandlerOptions{
		Level:       lv,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr,
	}

	var inner slog.Handler
	if cfg.Format == FormatJSON {
		inner = slog.NewJSONHandler(sinkWriter{}, opts)
	} else {
		inner = slog.NewTextHandler(sinkWriter{}, opts)
	}

	return &subsystemHandler{
		level: lv,
		inner: inner.WithAttrs([]slog.Attr{slog.String("subsystem", subsystem)}),
	}
}

func (h *subsystemHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithAttrs(attrs)}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithGroup(name)}
}

// SetLevel 调整级别，派生的 Handler 共享同一 LevelVar
func (h *subsystemHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}

// replaceAttr 统一字段格式：ts、小写级别、短源文件路径，凭据打码
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.LevelKey:
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelToString(l))
		}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
			a.Value = slog.StringValue(filepath.Base(src.File) + ":" + strconv.Itoa(src.Line))
		}
	default:
		if _, ok := redactedKeys[a.Key]; ok && a.Value.String() != "" {
			a.Value = slog.StringValue("***")
		}
	}
	return a
}

func levelToString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// ============================================================================
//                              丢弃
// ============================================================================

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// DiscardHandler 丢弃所有记录，用于测试
func DiscardHandler() slog.Handler {
	return discardHandler{}
}
