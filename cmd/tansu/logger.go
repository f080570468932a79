package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// splitHandler sends records below slog.LevelError to out and the rest to errs.
// Records below min are dropped before either handler sees them.
type splitHandler struct {
	min  slog.Leveler
	out  slog.Handler
	errs slog.Handler
}

func (h *splitHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min.Level()
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return h.errs.Handle(ctx, r)
	}
	return h.out.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{min: h.min, out: h.out.WithAttrs(attrs), errs: h.errs.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{min: h.min, out: h.out.WithGroup(name), errs: h.errs.WithGroup(name)}
}

// newSplitHandler builds the handler pair over stdout and stderr. Production
// writes JSON for log collectors; development writes text.
func newSplitHandler(stdout, stderr io.Writer, level slog.Level, production bool) *splitHandler {
	opts := &slog.HandlerOptions{Level: level}
	build := func(w io.Writer) slog.Handler {
		if production {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}
	return &splitHandler{min: level, out: build(stdout), errs: build(stderr)}
}

// setupLogger installs the default logger. If logPath is non-empty every
// record is also appended to that file. The returned function closes it.
func setupLogger(logPath string, level slog.Level, production bool) (func(), error) {
	stdout, stderr := io.Writer(os.Stdout), io.Writer(os.Stderr)
	cleanup := func() {}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdout = io.MultiWriter(stdout, f)
		stderr = io.MultiWriter(stderr, f)
	}

	slog.SetDefault(slog.New(newSplitHandler(stdout, stderr, level, production)))
	return cleanup, nil
}
