// Package logger owns the process-global structured logger. Components
// accept an injected *zap.Logger; Get covers the places that have none.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// contextKey is the type for context keys
type contextKey string

const (
	// OperationIDKey is the context key for the engine operation id
	OperationIDKey contextKey = "operation_id"
	// ServiceKey is the context key for the downstream service name
	ServiceKey contextKey = "service"
)

// Config selects level, encoding, and output destinations
type Config struct {
	Level    string
	Encoding string // json or console
	Outputs  []string
}

// Init replaces the global logger. Later calls win, so a CLI can
// re-initialize after parsing flags.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	if zc.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(cfg.Outputs) > 0 {
		zc.OutputPaths = cfg.Outputs
	}

	return zc.Build()
}

// Get returns the global logger, building a default json/info logger on
// first use if Init was never called
func Get() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		fallback, err := build(Config{Level: "info", Encoding: "json"})
		if err != nil {
			fallback = zap.NewNop()
		}
		global = fallback
	}
	return global
}

// WithContext returns the global logger annotated with the operation id
// and service name carried by ctx, when present
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()

	if operationID, ok := ctx.Value(OperationIDKey).(string); ok {
		l = l.With(zap.String("operation_id", operationID))
	}
	if service, ok := ctx.Value(ServiceKey).(string); ok {
		l = l.With(zap.String("service", service))
	}

	return l
}

// With creates a child of the global logger with additional fields
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		return global.Sync()
	}
	return nil
}
