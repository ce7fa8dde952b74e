package search

import (
	"context"
	"log/slog"
	"time"
)

type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Notice kinds.
const (
	KindCompleted     = "completed"
	KindBufferFailed  = "buffer_failed"
	KindQueryFailed   = "query_failed"
	KindQueryCanceled = "query_canceled"
	KindTargetMissing = "target_missing"
	KindNoUsableIDs   = "no_usable_ids"
)

// Notice is a non-fatal, user-facing report about one search run.
type Notice struct {
	SearchID string    `json:"search_id"`
	Token    uint64    `json:"token"`
	Level    Level     `json:"level"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Selected int       `json:"selected,omitempty"`
	Time     time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lvl := slog.LevelInfo
	if n.Level == LevelWarn {
		lvl = slog.LevelWarn
	}
	// search_id and token travel in ctx
	lg.Log(ctx, lvl, n.Message, "kind", n.Kind, "selected", n.Selected)
}

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) {}
