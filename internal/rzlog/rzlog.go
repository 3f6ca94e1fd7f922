// Package rzlog wraps zap so callers of ragzip never have to depend on a
// particular logging library just to silence or redirect it.
package rzlog

import "go.uber.org/zap"

// Logger is an alias of zap.Logger itself, not a narrower interface, so any
// *zap.Logger can be passed where ragzip takes one. Passing nil
// anywhere ragzip accepts a *zap.Logger is equivalent to zap.NewNop(): the
// library stays silent unless a caller opts in.
type Logger = zap.Logger

// NopIfNil returns l, or a no-op logger if l is nil.
func NopIfNil(l *Logger) *Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// NewConsole builds a human-readable, level-gated logger for CLI use, debug
// set true when -vv was passed, info set true for plain -v.
func NewConsole(debug, info bool) *Logger {
	cfg := zap.NewDevelopmentConfig()
	switch {
	case debug:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case info:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
