// Package logger wraps zap with the field-constructor style used throughout
// noaawxd: construct once with New, derive per-component loggers with
// Named, and pass typed fields built from the package-level helpers.
package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the root logger is built.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "console"
}

// Logger is the handle passed around the daemon.
type Logger struct {
	z *zap.Logger
}

// New builds a root Logger from Config.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console", "":
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	return &Logger{z: zap.New(core, zap.AddCaller())}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("logger: unknown level %q", s)
	}
}

// Named returns a child logger prefixed with component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{z: l.z.Named(component)}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Field constructors, re-exported from zap so call sites never import it
// directly (logger.String, logger.Int, ...).
func String(key, val string) zap.Field           { return zap.String(key, val) }
func Int(key string, val int) zap.Field           { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field       { return zap.Int64(key, val) }
func Float64(key string, val float64) zap.Field   { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field         { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) zap.Field {
	return zap.Duration(key, val)
}
func Time(key string, val time.Time) zap.Field { return zap.Time(key, val) }
func Error(err error) zap.Field                { return zap.Error(err) }
func Any(key string, val any) zap.Field        { return zap.Any(key, val) }
