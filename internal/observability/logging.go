package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string
	Format  string
	Dir     string
	Service string
}

// NewLogger builds the service logger. Records go to stderr and, when Dir is
// set, to rotating combined.log and error.log files under Dir. The returned
// closer releases the log files.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		console = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		console = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	handlers := []slog.Handler{console}
	var closers multiCloser
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir %s: %w", dir, err)
		}
		combined := rotatingFile(filepath.Join(dir, "combined.log"))
		errorsOnly := rotatingFile(filepath.Join(dir, "error.log"))
		closers = append(closers, combined, errorsOnly)
		handlers = append(handlers,
			slog.NewJSONHandler(combined, opts),
			slog.NewJSONHandler(errorsOnly, &slog.HandlerOptions{Level: slog.LevelError}),
		)
	}

	logger := slog.New(NewMultiHandler(handlers...))
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, closers, nil
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 5,
	}
}

// ParseLevel maps debug|info|warn|error to a slog level; empty means info.
func ParseLevel(v string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", v)
	}
}

// MultiHandler fans records out to every handler that accepts its level.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
