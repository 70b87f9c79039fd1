package logger

import (
	"context"
	"log/slog"
	"time"
)

// Operation logs the lifecycle of one dispatched agent operation
type Operation struct {
	logger    *Logger
	ctx       context.Context
	name      string
	StartTime time.Time
	attrs     []any
}

// StartOp begins tracking an operation and logs its start at debug
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) *Operation {
	op := &Operation{
		logger:    l,
		ctx:       ctx,
		name:      name,
		StartTime: time.Now(),
		attrs:     args,
	}

	l.WithContext(ctx).Debug("operation started", append([]any{slog.String("operation", name)}, args...)...)

	return op
}

// With adds attributes to the operation
func (op *Operation) With(args ...any) *Operation {
	op.attrs = append(op.attrs, args...)
	return op
}

// Elapsed returns the time since the operation started
func (op *Operation) Elapsed() time.Duration {
	return time.Since(op.StartTime)
}

// Complete logs successful operation completion at the given ha_log level
func (op *Operation) Complete(level string, msg string, args ...any) {
	if msg == "" {
		msg = "operation completed"
	}
	op.logger.At(op.ctx, level, msg, op.fields(args)...)
}

// Fail logs a failed operation at err with the error's domain details
func (op *Operation) Fail(err error, msg string, args ...any) {
	if msg == "" {
		msg = "operation failed"
	}
	attrs := append(errorAttrs(err), op.fields(args)...)
	op.logger.WithContext(op.ctx).Error(msg, attrs...)
}

func (op *Operation) fields(args []any) []any {
	attrs := append(
		[]any{
			slog.String("operation", op.name),
			slog.Duration("duration_ms", op.Elapsed()),
		},
		op.attrs...,
	)
	return append(attrs, args...)
}
