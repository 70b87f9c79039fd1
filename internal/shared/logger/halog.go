package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner executes the external logging helper
type CommandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// HALogHandler is an slog.Handler that hands every record to heartbeat's
// ha_log.sh as `ha_log.sh <level> <message>`. Delivery failures are dropped:
// logging must never make the agent fail.
type HALogHandler struct {
	command string
	level   slog.Leveler
	attrs   []slog.Attr
	group   string
	run     CommandRunner
}

// NewHALogHandler creates a handler invoking command for records at or above level
func NewHALogHandler(command string, level slog.Leveler) *HALogHandler {
	return &HALogHandler{
		command: command,
		level:   level,
		run:     runCommand,
	}
}

// WithRunner replaces the command runner, used by tests
func (h *HALogHandler) WithRunner(run CommandRunner) *HALogHandler {
	clone := *h
	clone.run = run
	return &clone
}

func (h *HALogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *HALogHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})

	_ = h.run(ctx, h.command, string(LevelName(r.Level)), b.String())
	return nil
}

func (h *HALogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *HALogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}

	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}

var _ slog.Handler = (*HALogHandler)(nil)
