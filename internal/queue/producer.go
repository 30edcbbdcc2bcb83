package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
)

// DefaultMaxLen bounds the account event stream.
const DefaultMaxLen = 10000

// DefaultBuffer is how many events may wait for Redis before Report drops.
const DefaultBuffer = 256

const publishTimeout = 2 * time.Second

type pending struct {
	ctx context.Context
	ev  orchestrator.Event
}

// EventPublisher writes orchestrator events to a Redis stream so alerting
// outside this process can follow account health. It is an
// orchestrator.Reporter; Run must be running for events to leave the buffer.
type EventPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger

	send    func(context.Context, orchestrator.Event) error
	queue   chan pending
	dropped atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewEventPublisher(client *redis.Client, stream string, logger *slog.Logger) *EventPublisher {
	p := newPublisher(DefaultBuffer, logger)
	p.client = client
	p.stream = stream
	p.maxLen = DefaultMaxLen
	p.send = p.Publish
	return p
}

func newPublisher(buffer int, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		logger: logger,
		queue:  make(chan pending, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Report queues ev and returns at once. A full buffer drops the event, so a
// slow Redis never stalls an account task.
func (p *EventPublisher) Report(ctx context.Context, ev orchestrator.Event) {
	// Keep the trace, not the caller's deadline.
	detached := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	select {
	case p.queue <- pending{ctx: detached, ev: ev}:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "account event buffer full, dropping event",
			"account_id", ev.AccountID,
			"event", string(ev.Kind))
	}
}

// Dropped counts events Report discarded because the buffer was full.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run publishes queued events until Close, then flushes what is buffered.
func (p *EventPublisher) Run() {
	defer close(p.done)
	for {
		select {
		case item := <-p.queue:
			p.deliver(item)
		case <-p.stop:
			for {
				select {
				case item := <-p.queue:
					p.deliver(item)
				default:
					return
				}
			}
		}
	}
}

// Close stops Run after the buffer drains, or when ctx ends.
func (p *EventPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) deliver(item pending) {
	ctx, cancel := context.WithTimeout(item.ctx, publishTimeout)
	defer cancel()

	if err := p.send(ctx, item.ev); err != nil {
		p.logger.WarnContext(ctx, "failed to publish account event",
			"error", err,
			"account_id", item.ev.AccountID,
			"event", string(item.ev.Kind))
	}
}

func (p *EventPublisher) Publish(ctx context.Context, ev orchestrator.Event) error {
	fields := eventValues(ev)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		fields["trace_id"] = span.SpanContext().TraceID().String()
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish account event: %w", err)
	}
	return nil
}

func eventValues(ev orchestrator.Event) map[string]any {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	fields := map[string]any{
		"account_id": ev.AccountID,
		"event":      string(ev.Kind),
		"state":      ev.State.String(),
		"attempt":    ev.Attempt,
		"at":         at.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}
	return fields
}
