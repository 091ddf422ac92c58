package observe

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging is best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	WithAttempt(meta AttemptMeta) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// RedactedFields lists field keys whose values never reach the log output.
var RedactedFields = []string{
	"password",
	"secret",
	"token",
	"assertion",
	"credential",
	"client_secret",
	"private_key",
}

const redacted = "[REDACTED]"

// ParseLogLevel maps a configured level name to a slog level. Unknown
// names map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return NewSlogLogger(newHandler(LoggingConfig{Level: level, Format: "json"}, w))
}

// NewSlogLogger adapts a slog handler. Records logged with a context that
// carries a span gain trace_id and span_id attributes.
func NewSlogLogger(h slog.Handler) Logger {
	if _, ok := h.(spanHandler); !ok {
		h = spanHandler{h}
	}
	return &slogLogger{l: slog.New(h)}
}

func newHandler(cfg LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.Level),
		ReplaceAttr: replaceAttr,
	}
	if cfg.Format == "text" {
		return spanHandler{slog.NewTextHandler(w, opts)}
	}
	return spanHandler{slog.NewJSONHandler(w, opts)}
}

// replaceAttr lower-cases levels and redacts credential-bearing keys.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch {
	case len(groups) == 0 && a.Key == slog.LevelKey:
		a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
	case slices.Contains(RedactedFields, a.Key):
		a.Value = slog.StringValue(redacted)
	}
	return a
}

// spanHandler adds the current span ids to every record.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

type slogLogger struct {
	l *slog.Logger
}

// WithAttempt returns a logger that tags every line with the chain name
// and attempt id.
func (l *slogLogger) WithAttempt(meta AttemptMeta) Logger {
	args := []any{slog.String("auth.chain", meta.Chain)}
	if meta.AttemptID != "" {
		args = append(args, slog.String("auth.attempt_id", meta.AttemptID))
	}
	return &slogLogger{l: l.l.With(args...)}
}

func (l *slogLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelInfo, msg, fields)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelWarn, msg, fields)
}

func (l *slogLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelError, msg, fields)
}

func (l *slogLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelDebug, msg, fields)
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	l.l.LogAttrs(ctx, level, msg, attrs...)
}

type noopLogger struct{}

// NewNoopLogger creates a logger that discards everything.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) WithAttempt(AttemptMeta) Logger        { return l }

var _ Logger = (*slogLogger)(nil)
