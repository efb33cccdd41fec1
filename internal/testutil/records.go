package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// Record is one captured log entry.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Records is a slog.Handler keeping entries in memory.
type Records struct {
	mu      sync.Mutex
	entries []Record
	attrs   []slog.Attr
	shared  *Records
}

func (r *Records) root() *Records {
	if r.shared != nil {
		return r.shared
	}
	return r
}

// Enabled accepts every level.
func (r *Records) Enabled(context.Context, slog.Level) bool { return true }

// Handle stores the record.
func (r *Records) Handle(_ context.Context, rec slog.Record) error {
	entry := Record{Level: rec.Level, Message: rec.Message, Attrs: make(map[string]any)}
	for _, a := range r.attrs {
		entry.Attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.Any()
		return true
	})

	root := r.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.entries = append(root.entries, entry)
	return nil
}

// WithAttrs returns a handler sharing storage with r.
func (r *Records) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, r.attrs...), attrs...)
	return &Records{attrs: merged, shared: r.root()}
}

// WithGroup is not supported; groups are flattened.
func (r *Records) WithGroup(string) slog.Handler { return r }

// Entries returns a copy of the captured records.
func (r *Records) Entries() []Record {
	root := r.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return append([]Record(nil), root.entries...)
}

// Messages returns the captured messages in order.
func (r *Records) Messages() []string {
	var out []string
	for _, e := range r.Entries() {
		out = append(out, e.Message)
	}
	return out
}
