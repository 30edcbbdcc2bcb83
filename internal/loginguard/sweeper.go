package loginguard

import (
	"context"
	"log/slog"
	"time"

	"github.com/legeling/xianyu-auto-reply/common/logger"
)

const DefaultSweepInterval = 5 * time.Minute

// Reaper drops state older than cutoff and reports how much it removed.
type Reaper interface {
	Reap(cutoff time.Time) int
}

// ReaperFunc adapts a function to Reaper.
type ReaperFunc func(cutoff time.Time) int

func (f ReaperFunc) Reap(cutoff time.Time) int { return f(cutoff) }

// Sweeper periodically garbage-collects processed records, idle locks, and
// whatever extra reapers it was given (login sessions, expired tokens).
type Sweeper struct {
	guard     *Guard
	reapers   []Reaper
	interval  time.Duration
	retention time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewSweeper(guard *Guard, interval time.Duration, reapers ...Reaper) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		guard:     guard,
		reapers:   reapers,
		interval:  interval,
		retention: guard.retention,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "autoreply.loginguard.sweeper",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "login sweeper started",
		"interval", s.interval,
		"retention", s.retention)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "login sweeper stopping")
			return
		case now := <-ticker.C:
			s.SweepOnce(ctx, now)
		}
	}
}

// Stop signals Run to return and waits for it.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	records, locks := s.guard.Sweep(now)

	reaped := 0
	cutoff := now.Add(-s.retention)
	for _, r := range s.reapers {
		reaped += r.Reap(cutoff)
	}

	if records+locks+reaped > 0 {
		slog.DebugContext(ctx, "login sweep",
			"records", records,
			"locks", locks,
			"reaped", reaped)
	}
}
