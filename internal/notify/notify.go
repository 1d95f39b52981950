// Package notify delivers alerts. Delivery is strictly best-effort: a
// failed send is logged and dropped, never surfaced into the check
// pipeline. The watcher must keep observing even when Telegram is down.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends a user-visible message.
type Notifier interface {
	// Send delivers text best-effort and never returns an error.
	Send(ctx context.Context, text string)
}

// Log is the fallback notifier used when no Telegram credentials are
// configured: alerts land in the log instead of a chat.
type Log struct {
	log *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (l *Log) Send(_ context.Context, text string) {
	l.log.Info("notify: (telegram not configured)", "text", text)
}
