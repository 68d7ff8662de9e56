// Package logger exposes a process-wide zap logger shared by the API
// server and the worker. Handlers pull it with Get and attach their own
// fields; the level-named helpers cover one-off messages.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Config controls the shared logger.
type Config struct {
	Level    string // debug, info, warn, error
	Encoding string // json or console
	Service  string // stamped on every entry as "service"
}

// DefaultConfig returns JSON-to-stdout defaults at info level.
func DefaultConfig(service string) Config {
	return Config{
		Level:    "info",
		Encoding: "json",
		Service:  service,
	}
}

// Init builds the shared logger. The first call wins; later calls
// return the already-installed logger so library code cannot swap it
// out from under a running service.
func Init(cfg Config) (*zap.Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return global, nil
	}
	l, err := build(cfg)
	if err != nil {
		return nil, err
	}
	global = l
	return global, nil
}

// Get returns the shared logger, installing defaults when Init was
// never called (tests, mostly).
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = build(DefaultConfig("shopfloor"))
	}
	return global
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.SecondsDurationEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.Fields(zap.String("service", cfg.Service)),
	), nil
}

// Debug logs at debug level on the shared logger.
func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }

// Info logs at info level on the shared logger.
func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }

// Warn logs at warn level on the shared logger.
func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }

// Error logs at error level on the shared logger.
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

// Fatal logs at fatal level and exits.
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// Sync flushes buffered entries. Called from main before exit.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
