package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextKey string

const loggerContextKey contextKey = "logger.entry"

var defaultLogger = logrus.New()

// SetLoggerOptions configures the process-wide default logger.
func SetLoggerOptions(optionsFunc func(logger *logrus.Logger)) {
	optionsFunc(defaultLogger)
}

// NewContextWithLogger returns a context carrying an entry derived from the
// supplied logger with the given fields attached. Handlers use this to route
// all of a request's log output (including the in-memory run-log sink)
// through one logger instance.
func NewContextWithLogger(ctx context.Context, fields logrus.Fields, logger *logrus.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger.WithFields(fields))
}

// NewContextWithFields adds fields to the context's current entry.
func NewContextWithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerContextKey, For(ctx).WithFields(fields))
}

// For returns the entry attached to ctx, or a default entry when ctx is nil
// or carries none.
func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return logrus.NewEntry(defaultLogger)
	}
	if entry, ok := ctx.Value(loggerContextKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(defaultLogger)
}
