// Package monitoring owns the process logger. Components receive a
// *zap.SugaredLogger at construction and fall back to L().
package monitoring

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.RWMutex
	globalLogger = zap.NewNop().Sugar()
)

// L returns the process logger. It is a no-op logger until SetLogger is called.
func L() *zap.SugaredLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLogger replaces the process logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.SugaredLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if l == nil {
		globalLogger = zap.NewNop().Sugar()
		return
	}
	globalLogger = l
}

// NewLoggerConfig returns a console config: ISO8601 timestamps, colored
// capital levels, short callers and no stacktraces.
func NewLoggerConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a zap
// level. The empty string means info.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// NewLogger builds a named console logger at the given level.
func NewLogger(name, level string) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l, err := NewLoggerConfig(lvl).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l.Sugar().Named(name), nil
}
