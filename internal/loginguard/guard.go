// Package loginguard applies asynchronous login successes exactly once,
// however many clients poll the same login session concurrently.
package loginguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legeling/xianyu-auto-reply/common/keylock"
	"github.com/legeling/xianyu-auto-reply/common/logger"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type Status string

const (
	StatusProcessing       Status = "processing"
	StatusAlreadyProcessed Status = "already_processed"
	StatusPending          Status = "pending"
	StatusSuccess          Status = "success"
	StatusExpired          Status = "expired"
	StatusError            Status = "error"
)

const DefaultRetention = time.Hour

// Result is what CheckSession observed. Applied is set only on the call that
// applied the success.
type Result struct {
	Status  Status              `json:"status"`
	Session *model.LoginSession `json:"session,omitempty"`
	Applied *ApplyResult        `json:"applied,omitempty"`
}

// Poller is satisfied by *login.Manager.
type Poller interface {
	PollSessionStatus(ctx context.Context, id string) (model.LoginSession, error)
}

// Applier turns a successful login into a registered account.
type Applier interface {
	Apply(ctx context.Context, sess model.LoginSession) (*ApplyResult, error)
}

type Guard struct {
	poller    Poller
	applier   Applier
	locks     *keylock.Registry
	retention time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	processed map[string]model.LoginProcessedRecord
}

func New(poller Poller, applier Applier, retention time.Duration) *Guard {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Guard{
		poller:    poller,
		applier:   applier,
		locks:     keylock.New(),
		retention: retention,
		now:       time.Now,
		processed: make(map[string]model.LoginProcessedRecord),
	}
}

// CheckSession reports the status of login session id, applying a success
// the first time one is seen. Concurrent callers for the same id get
// processing while another call holds the session.
func (g *Guard) CheckSession(ctx context.Context, id string) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{LoginSessionID: &id})

	if g.isProcessed(id) {
		return Result{Status: StatusAlreadyProcessed}, nil
	}

	unlock, ok := g.locks.TryLock(id)
	if !ok {
		return Result{Status: StatusProcessing}, nil
	}
	defer unlock()

	// another caller may have finished between the first check and the lock
	if g.isProcessed(id) {
		return Result{Status: StatusAlreadyProcessed}, nil
	}

	sess, err := g.poller.PollSessionStatus(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("polling login session: %w", err)
	}

	if sess.Status != model.LoginStatusSuccess {
		return Result{Status: Status(sess.Status), Session: &sess}, nil
	}

	applied, err := g.applier.Apply(ctx, sess)
	if err != nil {
		slog.ErrorContext(ctx, "applying login failed", "error", err)
		return Result{}, fmt.Errorf("applying login: %w", err)
	}

	g.markProcessed(id, applied.AccountID)
	slog.InfoContext(ctx, "login applied",
		"account_id", applied.AccountID,
		"created", applied.Created,
		"refresh", applied.Refresh)

	return Result{Status: StatusSuccess, Session: &sess, Applied: applied}, nil
}

func (g *Guard) isProcessed(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.processed[id]
	return ok && rec.Processed
}

func (g *Guard) markProcessed(id, accountID string) {
	g.mu.Lock()
	g.processed[id] = model.LoginProcessedRecord{
		SessionID:   id,
		Processed:   true,
		AccountID:   accountID,
		ProcessedAt: g.now(),
	}
	g.mu.Unlock()
}

// Record returns the processed record for id, if any.
func (g *Guard) Record(id string) (model.LoginProcessedRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.processed[id]
	return rec, ok
}

// Sweep drops processed records and idle session locks older than the
// retention window.
func (g *Guard) Sweep(now time.Time) (records, locks int) {
	cutoff := now.Add(-g.retention)

	g.mu.Lock()
	for id, rec := range g.processed {
		if rec.ProcessedAt.Before(cutoff) {
			delete(g.processed, id)
			records++
		}
	}
	g.mu.Unlock()

	return records, g.locks.Forget(cutoff)
}
