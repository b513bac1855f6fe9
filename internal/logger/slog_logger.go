package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

// NewSlogLogger creates a standalone Logger writing text records to w.
// A nil writer logs to stdout and a nil timezone uses local time. Intended for
// tests and for components constructed before the central logger exists.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	if tz == nil {
		tz = time.Local
	}
	lvl := parseLogLevel(string(level))
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, lvl, tz)),
		level:  lvl,
	}
}

// NewJSONLogger creates a Logger emitting JSON records to w.
func NewJSONLogger(w io.Writer, level LogLevel) Logger {
	lvl := parseLogLevel(string(level))
	return &moduleLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})),
		level:  lvl,
	}
}

// fanoutHandler duplicates records to every handler that accepts the level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: hs}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: hs}
}
