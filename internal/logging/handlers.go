package logging

import (
	"context"
	"log/slog"
)

// FanoutHandler writes each record to every child handler that accepts it.
type FanoutHandler struct {
	children []slog.Handler
}

// NewFanoutHandler returns a handler that fans out to children.
func NewFanoutHandler(children ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{children: children}
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.children {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	// A failing sink must not silence the others.
	for _, h := range f.children {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *FanoutHandler) each(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	next := make([]slog.Handler, len(f.children))
	for i, h := range f.children {
		next[i] = fn(h)
	}
	return &FanoutHandler{children: next}
}
