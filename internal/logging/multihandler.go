package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler duplicates every record to a set of handlers, so a run can
// log to stdout, the session file and OTel at once. Nil entries are allowed
// and skipped.
type fanoutHandler struct {
	targets []slog.Handler
}

func newFanoutHandler(targets ...slog.Handler) *fanoutHandler {
	kept := targets[:0]
	for _, h := range targets {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &fanoutHandler{targets: kept}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.targets {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.targets {
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
	next := make([]slog.Handler, len(f.targets))
	for i, h := range f.targets {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{targets: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	next := make([]slog.Handler, len(f.targets))
	for i, h := range f.targets {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{targets: next}
}
