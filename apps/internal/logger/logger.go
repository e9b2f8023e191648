// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package logger wraps log/slog with the small surface the rest of the module logs through.
package logger

import (
	"context"
	"log/slog"
)

type Level string

const (
	Info  Level = "info"
	Err   Level = "error"
	Warn  Level = "warn"
	Debug Level = "debug"
)

// Logger writes structured records to a *slog.Logger. The zero value and a nil *Logger discard everything.
type Logger struct {
	logging *slog.Logger
}

// New returns a Logger writing to l. A nil l yields a Logger that discards output.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &Logger{logging: l}
}

// With returns a Logger that adds fields to every record.
func (l *Logger) With(fields ...any) *Logger {
	if l == nil || l.logging == nil {
		return l
	}
	return &Logger{logging: l.logging.With(fields...)}
}

// Log writes message at level with the given fields. Fields are slog attributes or key/value pairs.
func (l *Logger) Log(ctx context.Context, level Level, message string, fields ...any) {
	if l == nil || l.logging == nil {
		return
	}
	var slogLevel slog.Level
	switch level {
	case Info:
		slogLevel = slog.LevelInfo
	case Err:
		slogLevel = slog.LevelError
	case Warn:
		slogLevel = slog.LevelWarn
	case Debug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	l.logging.Log(ctx, slogLevel, message, fields...)
}

// Field creates a slog field for any value
func Field(key string, value any) any {
	return slog.Any(key, value)
}
