// Package logging builds the process-wide slog logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Level   string    // debug | info | warn | error
	File    string    // optional path for a JSON log file
	Console io.Writer // defaults to os.Stderr
}

// New returns a logger writing text to the console and, when File is set,
// JSON to that file. The returned close function releases the file.
func New(cfg Config) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}
	closeFn := func() error { return nil }

	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closeFn = f.Close
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(Fanout(handlers...)), closeFn, nil
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ---- Fanout ----

type fanout struct{ hs []slog.Handler }

// Fanout sends each record to every handler that accepts its level.
func Fanout(h ...slog.Handler) slog.Handler { return &fanout{hs: h} }

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f.hs {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.hs))
	for i, h := range f.hs {
		hs[i] = h.WithAttrs(attrs)
	}
	return &fanout{hs: hs}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.hs))
	for i, h := range f.hs {
		hs[i] = h.WithGroup(name)
	}
	return &fanout{hs: hs}
}
