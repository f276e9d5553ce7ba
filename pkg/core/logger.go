package core

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger
}

// LogConfig configures the default logger
type LogConfig struct {
	Level       string `yaml:"level" json:"level" toml:"level"` // "debug", "info", "warn", "error"
	Development bool   `yaml:"development" json:"development" toml:"development"`
}

// zapLogger implements Logger on top of zap's sugared logger
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a zap-backed Logger.
// Development mode writes colored console output, otherwise JSON.
func NewLogger(cfg LogConfig) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: l.Sugar()}, nil
}

// NewDefaultLogger creates a logger with production settings.
// Falls back to a no-op logger if zap cannot be built.
func NewDefaultLogger() Logger {
	l, err := NewLogger(LogConfig{Level: "info"})
	if err != nil {
		return NewNopLogger()
	}
	return l
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

// NewZapLogger adapts an existing zap logger
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *zapLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) Warn(args ...interface{}) { l.sugar.Warn(args...) }

func (l *zapLogger) Warnf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

func (l *zapLogger) Info(args ...interface{}) { l.sugar.Info(args...) }

func (l *zapLogger) Infof(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

func (l *zapLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(kv...)}
}
