package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legeling/xianyu-auto-reply/common/logger"
)

// AccountEvent is one decoded entry of the account event stream.
type AccountEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Event     string    `json:"event"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	At        time.Time `json:"at"`
}

// EventReader reads back recent account events for the admin API.
type EventReader struct {
	client *redis.Client
	stream string
}

func NewEventReader(client *redis.Client, stream string) *EventReader {
	return &EventReader{client: client, stream: stream}
}

// Recent returns up to limit events, newest first. An empty accountID
// returns events for every account.
func (r *EventReader) Recent(ctx context.Context, accountID string, limit int64) ([]AccountEvent, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "autoreply.queue.reader",
	})

	scan := limit
	if accountID != "" {
		scan = limit * 10
	}

	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("reading account events: %w", err)
	}

	out := make([]AccountEvent, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := ParseAccountEvent(msg)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed account event", "error", err, "raw_message_id", msg.ID)
			continue
		}
		if accountID != "" && ev.AccountID != accountID {
			continue
		}
		out = append(out, ev)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func ParseAccountEvent(msg redis.XMessage) (AccountEvent, error) {
	accountID, err := parseString(msg.Values, "account_id")
	if err != nil {
		return AccountEvent{}, err
	}
	kind, err := parseString(msg.Values, "event")
	if err != nil {
		return AccountEvent{}, err
	}
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return AccountEvent{}, err
	}

	ev := AccountEvent{
		ID:        msg.ID,
		AccountID: accountID,
		Event:     kind,
		State:     parseOptionalString(msg.Values, "state"),
		Attempt:   attempt,
		Error:     parseOptionalString(msg.Values, "error"),
		TraceID:   parseOptionalString(msg.Values, "trace_id"),
	}

	if raw := parseOptionalString(msg.Values, "at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return AccountEvent{}, fmt.Errorf("invalid at: %w", err)
		}
		ev.At = at
	}
	return ev, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("empty %s", key)
	}
	return s, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return num, nil
}
