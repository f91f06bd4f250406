// Package logger builds the service logger and carries request scoped fields
// through contexts.
package logger

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// Config mirrors config.LoggerConfig without importing it.
type Config struct {
	Level       string
	Encoding    string
	Service     string
	Environment string
}

// New builds a logger writing info and below to stdout and errors to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	newEncoder, err := encoderFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l < zapcore.ErrorLevel })
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l >= zapcore.ErrorLevel })
	core := zapcore.NewTee(
		zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), low),
		zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), high),
	)

	var fields []zap.Field
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("env", cfg.Environment))
	}
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), zap.Fields(fields...)), nil
}

func encoderFor(encoding string) (func() zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch encoding {
	case "", "json":
		return func() zapcore.Encoder { return zapcore.NewJSONEncoder(encoderCfg) }, nil
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return func() zapcore.Encoder { return zapcore.NewConsoleEncoder(encoderCfg) }, nil
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}
}

// ContextWith returns a context whose loggers carry fields in addition to
// those already attached.
func ContextWith(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(ctxKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// ContextWithRequestID attaches a request ID to the provided context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return ContextWith(ctx, zap.String("request_id", requestID))
}

// FromContext enriches base with the fields stored in ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}
	if fields, ok := ctx.Value(ctxKey{}).([]zap.Field); ok {
		return base.With(fields...)
	}
	return base
}
