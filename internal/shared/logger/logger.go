package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with the syslog-style levels the cluster manager expects
type Logger struct {
	*slog.Logger
	config LoggerConfig
}

// LogLevel is a level name as understood by ha_log.sh (crit, err, warn, notice, info, debug)
type LogLevel string

const (
	LevelCrit   LogLevel = "crit"
	LevelErr    LogLevel = "err"
	LevelWarn   LogLevel = "warn"
	LevelNotice LogLevel = "notice"
	LevelInfo   LogLevel = "info"
	LevelDebug  LogLevel = "debug"
)

// slog levels for the names slog does not define.
const (
	SlogLevelNotice slog.Level = 2
	SlogLevelCrit   slog.Level = 12
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Sink selects where log records are delivered
type Sink string

const (
	SinkStderr Sink = "stderr"
	SinkHALog  Sink = "ha_log"
)

// DefaultHALogCommand is the heartbeat logging helper invoked by the ha_log sink
const DefaultHALogCommand = "ha_log.sh"

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level        LogLevel     `mapstructure:"level"`
	Format       OutputFormat `mapstructure:"format"`
	Sink         Sink         `mapstructure:"sink"`
	AddSource    bool         `mapstructure:"add_source"`
	Component    string       `mapstructure:"component"`
	Version      string       `mapstructure:"version"`
	TimeFormat   string       `mapstructure:"time_format"`
	HALogCommand string       `mapstructure:"ha_log_command"`

	// Output overrides the stderr writer; stdout is reserved for operation payloads.
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:        LevelInfo,
		Format:       FormatText,
		Sink:         SinkStderr,
		Component:    "stonith-rackspace",
		Version:      "unknown",
		TimeFormat:   time.RFC3339,
		HALogCommand: DefaultHALogCommand,
	}
}

// New creates a new logger with the provided configuration
func New(config LoggerConfig) *Logger {
	if config.Level == "" {
		config.Level = LevelInfo
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339
	}
	if config.Output == nil {
		config.Output = os.Stderr
	}

	handler := createHandler(config, ParseLevel(string(config.Level)))

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// NewDiscard returns a logger that drops everything
func NewDiscard() *Logger {
	return New(LoggerConfig{Level: LevelDebug, Format: FormatJSON, Output: io.Discard})
}

// Context keys for structured logging
type contextKey string

const (
	CorrelationKey contextKey = "correlation_id"
	OperationKey   contextKey = "operation"
	TargetKey      contextKey = "target"
)

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger,
		config: cfg,
	}
}

// WithContext extracts logging context and returns a scoped logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := extractContextAttrs(ctx)
	attrs = append(attrs, slog.String("component", l.config.Component))

	return &Logger{
		Logger: l.Logger.With(attrsToAny(attrs)...),
		config: l.config,
	}
}

// At logs at a level given by its ha_log name. Unknown names are logged at notice.
func (l *Logger) At(ctx context.Context, level string, msg string, args ...any) {
	l.WithContext(ctx).Log(ctx, ParseLevel(level), msg, args...)
}

// NoticeContext logs at notice level with context
func (l *Logger) NoticeContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Log(ctx, SlogLevelNotice, msg, args...)
}

// CritContext logs at crit level with context
func (l *Logger) CritContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Log(ctx, SlogLevelCrit, msg, args...)
}

// ErrorCtx logs an error with domain error details and metadata expanded
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	l.WithContext(ctx).Error(msg, append(errorAttrs(err), args...)...)
}

// ParseLevel maps a level name onto an slog level. Both ha_log names and slog
// names are accepted; anything else falls back to notice.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "crit", "critical":
		return SlogLevelCrit
	case "err", "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "notice":
		return SlogLevelNotice
	case "info":
		return slog.LevelInfo
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return SlogLevelNotice
	}
}

// LevelName returns the ha_log name for an slog level
func LevelName(level slog.Level) LogLevel {
	switch {
	case level >= SlogLevelCrit:
		return LevelCrit
	case level >= slog.LevelError:
		return LevelErr
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= SlogLevelNotice:
		return LevelNotice
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Helper functions

func errorAttrs(err error) []any {
	if err == nil {
		return nil
	}
	attrs := []any{slog.String("error", err.Error())}

	if domainErr, ok := errors.AsDomainError(err); ok {
		attrs = append(attrs,
			slog.String("error_domain", domainErr.Domain()),
			slog.String("error_code", domainErr.Code()),
			slog.Bool("retryable", domainErr.Retryable()),
		)
		for k, v := range domainErr.Metadata() {
			attrs = append(attrs, slog.Any(k, v))
		}
	}
	return attrs
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, string(LevelName(level)))
		}
	}
	return a
}

func createHandler(config LoggerConfig, level slog.Level) slog.Handler {
	if config.Sink == SinkHALog {
		command := config.HALogCommand
		if command == "" {
			command = DefaultHALogCommand
		}
		return NewHALogHandler(command, level)
	}

	switch config.Format {
	case FormatText:
		return tint.NewHandler(config.Output, &tint.Options{
			Level:       level,
			TimeFormat:  config.TimeFormat,
			AddSource:   config.AddSource,
			ReplaceAttr: replaceLevel,
			NoColor:     config.Output != os.Stderr,
		})
	default:
		return slog.NewJSONHandler(config.Output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   config.AddSource,
			ReplaceAttr: replaceLevel,
		})
	}
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	for _, key := range []contextKey{CorrelationKey, OperationKey, TargetKey} {
		if val := getFromContext[string](ctx, key); val != "" {
			attrs = append(attrs, slog.String(string(key), val))
		}
	}

	return attrs
}

func getFromContext[T any](ctx context.Context, key contextKey) T {
	if val, ok := ctx.Value(key).(T); ok {
		return val
	}
	var zero T
	return zero
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

// Context helper functions

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func WithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, TargetKey, target)
}
