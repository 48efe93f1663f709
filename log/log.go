// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log is the structured logging façade used throughout this
// module. It wraps log/slog with the level set and global-logger
// conventions carried over from the wider Lux/Avalanche stack, so that
// store, conn, reactor, pool and server all take a Logger rather than
// reaching for a package-global.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Level constants. Trace and Crit extend slog's four standard levels,
// matching the verbosity scale used across the Lux tooling this package
// is modeled on.
const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// Logger is the interface every core component depends on. Components
// take a Logger at construction time (often via With, to attach
// component/connection context) instead of calling the package globals.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
	Enabled(ctx context.Context, level slog.Level) bool
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps an slog.Handler as a Logger.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.log(LevelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *logger) Handler() slog.Handler {
	return l.inner.Handler()
}

var root atomic.Pointer[logger]

func init() {
	root.Store(&logger{inner: slog.New(NewTerminalHandler(nil, false))})
}

// Root returns the current default/global Logger.
func Root() Logger {
	return root.Load()
}

// SetDefault replaces the global/default Logger.
func SetDefault(l Logger) {
	lg, ok := l.(*logger)
	if !ok {
		lg = &logger{inner: slog.New(l.Handler())}
	}
	root.Store(lg)
}

// New returns a child of the root logger carrying the given context.
func New(ctx ...any) Logger {
	return Root().With(ctx...)
}

func Trace(msg string, ctx ...any) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { Root().Crit(msg, ctx...) }

// LvlFromString parses a level name (trace/debug/info/warn/error/crit),
// case-insensitively.
func LvlFromString(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "crit", "critical":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// LevelString returns the lowercase name of a level.
func LevelString(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "trace"
	case l < LevelInfo:
		return "debug"
	case l < LevelWarn:
		return "info"
	case l < LevelError:
		return "warn"
	case l < LevelCrit:
		return "error"
	default:
		return "crit"
	}
}

// LevelAlignedString returns a fixed-width upper-case name of a level,
// suitable for column-aligned terminal output.
func LevelAlignedString(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO "
	case l < LevelError:
		return "WARN "
	case l < LevelCrit:
		return "ERROR"
	default:
		return "CRIT "
	}
}
