// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// terminalHandler is a compact, human-readable slog.Handler. It colorizes
// the level label when the underlying writer is a terminal.
type terminalHandler struct {
	w     io.Writer
	color bool
	attrs []slog.Attr
	mu    *sync.Mutex
}

// NewTerminalHandler builds a handler for interactive use. When w is nil,
// os.Stderr is used (auto-detected for color via go-isatty/go-colorable,
// same as the teacher's terminal logging convention).
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	if w == nil {
		w = colorable.NewColorableStderr()
		useColor = isatty.IsTerminal(uintptr(2))
	}
	return &terminalHandler{w: w, color: useColor, mu: new(sync.Mutex)}
}

func (h *terminalHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02T15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(h.levelLabel(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *terminalHandler) levelLabel(l slog.Level) string {
	label := LevelAlignedString(l)
	if !h.color {
		return label
	}
	var code string
	switch {
	case l <= LevelTrace:
		code = "90" // gray
	case l < LevelInfo:
		code = "36" // cyan
	case l < LevelWarn:
		code = "32" // green
	case l < LevelError:
		code = "33" // yellow
	case l < LevelCrit:
		code = "31" // red
	default:
		code = "35" // magenta
	}
	return "\x1b[" + code + "m" + label + "\x1b[0m"
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &terminalHandler{w: h.w, color: h.color, attrs: next, mu: h.mu}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened: this handler's output is line-oriented, not
	// nested, matching the teacher's single-line log convention.
	return h
}

// FileHandlerConfig controls rotation of the on-disk JSON log sink.
type FileHandlerConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileHandler returns a JSON slog.Handler writing to a size/age-rotated
// file via lumberjack, for long-running production deployments.
func NewFileHandler(cfg FileHandlerConfig) slog.Handler {
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    nonZero(cfg.MaxSizeMB, 100),
		MaxBackups: nonZero(cfg.MaxBackups, 5),
		MaxAge:     nonZero(cfg.MaxAgeDays, 28),
		Compress:   cfg.Compress,
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// GlogHandler mimics the filtering of Google's glog logger with a single
// global level threshold set by Verbosity. Patterns stored by Vmodule are
// not consulted by Enabled or Handle; there is no per-package or per-file
// override.
type GlogHandler struct {
	handler slog.Handler

	level    *atomic.Int32
	lock     *sync.Mutex
	patterns *[]pattern
}

type pattern struct {
	pattern *regexp.Regexp
	level   int32
}

// NewGlogHandler wraps h with glog-style dynamic level filtering.
func NewGlogHandler(h slog.Handler) *GlogHandler {
	var patterns []pattern
	return &GlogHandler{
		handler:  h,
		level:    new(atomic.Int32),
		lock:     new(sync.Mutex),
		patterns: &patterns,
	}
}

func (h *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.handler.Handle(ctx, r)
}

func (h *GlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.Level(h.level.Load())
}

func (h *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GlogHandler{
		handler:  h.handler.WithAttrs(attrs),
		level:    h.level,
		lock:     h.lock,
		patterns: h.patterns,
	}
}

func (h *GlogHandler) WithGroup(name string) slog.Handler {
	return &GlogHandler{
		handler:  h.handler.WithGroup(name),
		level:    h.level,
		lock:     h.lock,
		patterns: h.patterns,
	}
}

// Verbosity sets the glog verbosity ceiling.
func (h *GlogHandler) Verbosity(level slog.Level) {
	h.level.Store(int32(level))
}

// Vmodule parses and stores a comma-separated list of name=level rules,
// e.g. "pool=-4,conn=2". The stored rules do not affect filtering.
func (h *GlogHandler) Vmodule(ruleset string) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if ruleset == "" {
		*h.patterns = (*h.patterns)[:0]
		return nil
	}

	for _, rule := range strings.Split(ruleset, ",") {
		if rule == "" {
			continue
		}
		parts := strings.Split(rule, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid vmodule pattern %q", rule)
		}
		name := strings.TrimSpace(parts[0])
		levelStr := strings.TrimSpace(parts[1])
		if name == "" || levelStr == "" {
			return fmt.Errorf("invalid vmodule pattern %q", rule)
		}
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			return fmt.Errorf("invalid vmodule pattern %q", rule)
		}
		re, err := regexp.Compile(name)
		if err != nil {
			return fmt.Errorf("invalid vmodule pattern %q: %w", rule, err)
		}
		*h.patterns = append(*h.patterns, pattern{re, int32(level)})
	}
	return nil
}
