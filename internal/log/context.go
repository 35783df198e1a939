package log

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext extracts a logger from ctx, falling back to the slog default
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// LogError logs err at Error level, or at Warn level when it is a caller
// mistake (validation, conflict, lookup) rather than a failure.
func LogError(ctx context.Context, logger *Logger, msg string, err error, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	all := fields.WithError(err).WithOperation(operation)

	switch all[FieldErrorType] {
	case ErrorTypeInternal:
		logger.ErrorContext(ctx, msg, all.ToSlice()...)
	default:
		logger.WarnContext(ctx, msg, all.ToSlice()...)
	}
}
