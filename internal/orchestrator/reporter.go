package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

type EventKind string

const (
	EventStarted      EventKind = "started"
	EventRunning      EventKind = "running"
	EventReconnecting EventKind = "reconnecting"
	EventStopped      EventKind = "stopped"
	EventFatal        EventKind = "fatal"
	EventMessageError EventKind = "message_error"
)

// Event is one account lifecycle change or failure. Err is set for
// reconnecting, fatal and message_error.
type Event struct {
	AccountID string
	Kind      EventKind
	State     State
	Attempt   int
	Err       error
	Time      time.Time
}

// Reporter is the single channel through which task outcomes leave the
// orchestrator. Implementations must not block for long.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, ev Event) {
	attrs := []any{
		"account_id", ev.AccountID,
		"event", string(ev.Kind),
		"state", ev.State.String(),
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, "attempt", ev.Attempt)
	}

	switch {
	case ev.Kind == EventFatal:
		r.logger.ErrorContext(ctx, "account task failed", append(attrs, "error", ev.Err)...)
	case ev.Err != nil:
		r.logger.WarnContext(ctx, "account task error", append(attrs, "error", ev.Err)...)
	default:
		r.logger.InfoContext(ctx, "account task state changed", attrs...)
	}
}

// MultiReporter fans an event out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, Event) {}
