package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package logger emits one JSON object per line on stdout. Events carry an
// event name plus flat key/value fields so they can be grepped and shipped
// without a parsing step.

var (
	mu   sync.Mutex
	base *zap.Logger
)

func get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.MessageKey = "event"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stdout), zap.InfoLevel)
		base = zap.New(core)
	}
	return base
}

// SetLogger replaces the backing zap logger (tests, custom sinks).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

func fields(kv map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(kv))
	for k, v := range kv {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Info logs a bare informational event.
func Info(msg string) { get().Info(msg) }

// Error logs a bare error event.
func Error(msg string) { get().Error(msg) }

// InfoJ logs an event with structured fields.
func InfoJ(event string, kv map[string]any) { get().Info(event, fields(kv)...) }

// ErrorJ logs an error event with structured fields.
func ErrorJ(event string, kv map[string]any) { get().Error(event, fields(kv)...) }

// Sync flushes buffered log entries. Best-effort on shutdown.
func Sync() { _ = get().Sync() }
