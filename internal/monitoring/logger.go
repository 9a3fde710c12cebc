// Package monitoring provides the process-wide diagnostic logger.
//
// Components ask for a named child logger at construction time. The root
// logger defaults to a console logger at info level and may be replaced by
// SetLogger; tests use SetLogger(nil) to mute output.
package monitoring

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root = mustDefault()
)

func mustDefault() *zap.Logger {
	l, err := NewLogger("info", "console")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewLogger builds a zap logger. level is one of debug, info, warn, error;
// format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// SetLogger replaces the root logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// L returns the root sugared logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sugar()
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger {
	return L().Named(component)
}

// Logf logs a printf-style message at info level on the root logger.
func Logf(format string, v ...interface{}) {
	L().Infof(format, v...)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
