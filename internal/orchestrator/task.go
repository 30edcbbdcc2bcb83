package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/legeling/xianyu-auto-reply/common/logger"
	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
)

// task supervises one account's live session. Only run mutates the
// connection; the mutex guards what admin and dispatch paths read.
type task struct {
	o         *Orchestrator
	accountID string
	cred      credential.Blob
	version   int

	cancel context.CancelFunc
	done   chan struct{}

	limiter *rate.Limiter

	mu       sync.RWMutex
	state    State
	failures int
	lastErr  error
	since    time.Time
	session  livesession.Session
	paused   map[string]time.Time
}

func newTask(o *Orchestrator, acct *model.Account) *task {
	limit := rate.Inf
	if o.cfg.SendRatePerSec > 0 {
		limit = rate.Limit(o.cfg.SendRatePerSec)
	}
	burst := o.cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &task{
		o:         o,
		accountID: acct.ID,
		cred:      acct.Credential,
		version:   acct.CredentialVersion,
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(limit, burst),
		state:     StateStarting,
		since:     o.now(),
		paused:    make(map[string]time.Time),
	}
}

// matches reports whether the task runs acct's current credential.
func (t *task) matches(acct *model.Account) bool {
	return t.version == acct.CredentialVersion && t.cred.Equal(acct.Credential)
}

func (t *task) status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := TaskStatus{
		AccountID: t.accountID,
		State:     t.state,
		Failures:  t.failures,
		Since:     t.since,
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) setState(s State, failures int, err error) {
	t.mu.Lock()
	t.state = s
	t.failures = failures
	if err != nil {
		t.lastErr = err
	}
	t.since = t.o.now()
	t.mu.Unlock()
}

func (t *task) currentSession() livesession.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}

func (t *task) setSession(s livesession.Session) {
	t.mu.Lock()
	t.session = s
	t.mu.Unlock()
}

func (t *task) report(ctx context.Context, kind EventKind, state State, attempt int, err error) {
	t.o.reporter.Report(ctx, Event{
		AccountID: t.accountID,
		Kind:      kind,
		State:     state,
		Attempt:   attempt,
		Err:       err,
		Time:      t.o.now(),
	})
}

func (t *task) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if t.o.cfg.BackoffInitial > 0 {
		bo.InitialInterval = t.o.cfg.BackoffInitial
	}
	if t.o.cfg.BackoffMax > 0 {
		bo.MaxInterval = t.o.cfg.BackoffMax
	}
	bo.Reset()
	return bo
}

// run is the supervision loop. It returns when ctx is cancelled, the
// credential is rejected, or the failure budget is spent.
func (t *task) run(ctx context.Context) {
	defer close(t.done)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AccountID: logger.Ptr(t.accountID),
		Component: "autoreply.orchestrator.task",
	})

	t.report(ctx, EventStarted, StateStarting, 0, nil)

	bo := t.newBackOff()
	failures := 0

	for {
		connected, err := t.runSession(ctx)

		if ctx.Err() != nil {
			t.setState(StateStopped, 0, nil)
			t.report(context.WithoutCancel(ctx), EventStopped, StateStopped, 0, nil)
			return
		}

		if errors.Is(err, livesession.ErrCredentialRejected) {
			fatal := &FatalAccountError{AccountID: t.accountID, Err: err}
			t.setState(StateStopped, failures, fatal)
			t.report(ctx, EventFatal, StateStopped, 0, fatal)
			return
		}

		if connected {
			failures = 0
			bo.Reset()
		} else {
			failures++
			if failures >= t.o.cfg.MaxConsecutiveFailures {
				fatal := &FatalAccountError{AccountID: t.accountID, Failures: failures, Err: err}
				t.setState(StateStopped, failures, fatal)
				t.report(ctx, EventFatal, StateStopped, failures, fatal)
				return
			}
		}

		transient := &TransientConnectionError{AccountID: t.accountID, Op: "session", Err: err}
		t.setState(StateReconnecting, failures, transient)
		t.report(ctx, EventReconnecting, StateReconnecting, failures, transient)

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			t.setState(StateStopped, 0, nil)
			t.report(context.WithoutCancel(ctx), EventStopped, StateStopped, 0, nil)
			return
		case <-timer.C:
		}
	}
}

// runSession dials, connects and serves one connection. connected reports
// whether the session reached Running before it ended.
func (t *task) runSession(ctx context.Context) (connected bool, err error) {
	sess, err := t.o.dialer.Dial(t.accountID, t.cred)
	if err != nil {
		return false, fmt.Errorf("dialing: %w", err)
	}
	defer func() {
		t.setSession(nil)
		if closeErr := sess.Close(); closeErr != nil {
			slog.WarnContext(ctx, "closing live session", "error", closeErr)
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, t.o.cfg.ConnectTimeout)
	err = sess.Connect(connectCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("connecting: %w", err)
	}

	inbound, err := sess.Listen(ctx)
	if err != nil {
		return false, fmt.Errorf("listening: %w", err)
	}

	t.setSession(sess)
	t.setState(StateRunning, 0, nil)
	t.report(ctx, EventRunning, StateRunning, 0, nil)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return true, errors.New("inbound stream closed")
			}
			if _, err := t.handleSafe(ctx, msg); err != nil {
				var transient *TransientConnectionError
				if errors.As(err, &transient) {
					return true, err
				}
				t.report(ctx, EventMessageError, StateRunning, 0, err)
			}
		}
	}
}

func (t *task) handleSafe(ctx context.Context, msg livesession.InboundMessage) (out reply.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message handling",
				"panic", r,
				"conversation_id", msg.ConversationID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.handle(ctx, msg)
}

// handle resolves and sends the reply for one inbound message. A
// TransientConnectionError means the session is unusable.
func (t *task) handle(ctx context.Context, msg livesession.InboundMessage) (reply.Outcome, error) {
	sc := logger.StartSpan(ctx, "orchestrator.handle_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("account.id", t.accountID),
			attribute.String("conversation.id", msg.ConversationID),
		))
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		AccountID:      logger.Ptr(t.accountID),
		ConversationID: logger.Ptr(msg.ConversationID),
	})

	out, err := t.resolveAndSend(ctx, msg)
	if err != nil {
		sc.RecordError(err)
	}
	sc.SetAttributes(attribute.String("reply.outcome", string(out.Kind)))
	return out, err
}

func (t *task) resolveAndSend(ctx context.Context, msg livesession.InboundMessage) (reply.Outcome, error) {
	noMatch := reply.Outcome{Kind: reply.NoMatch}

	if msg.FromSelf {
		return noMatch, t.pauseConversation(ctx, msg.ConversationID)
	}
	if t.isPaused(msg.ConversationID) {
		slog.DebugContext(ctx, "conversation paused, skipping automated reply")
		return reply.Outcome{Kind: reply.NoMatch, Source: "paused"}, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, t.o.cfg.StoreTimeout)
	out, err := t.o.resolver.Resolve(storeCtx, reply.Request{
		AccountID:      t.accountID,
		ConversationID: msg.ConversationID,
		ItemID:         msg.ItemID,
		Text:           msg.Text,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
	})
	cancel()
	if err != nil {
		return noMatch, fmt.Errorf("resolving reply: %w", err)
	}
	if !out.Sendable() {
		return out, nil
	}

	recorded := false
	if out.Kind == reply.DefaultUsed && out.Once {
		storeCtx, cancel := context.WithTimeout(ctx, t.o.cfg.StoreTimeout)
		inserted, err := t.o.store.InsertDefaultReplyRecord(storeCtx, t.accountID, msg.ConversationID)
		cancel()
		if err != nil {
			return noMatch, fmt.Errorf("recording default reply: %w", err)
		}
		if !inserted {
			return reply.Outcome{Kind: reply.AlreadyUsedDefault, Source: "default", Once: true}, nil
		}
		recorded = true
	}

	if err := t.send(ctx, msg.ConversationID, msg.SenderID, out); err != nil {
		if recorded {
			t.forgetDefaultRecord(ctx, msg.ConversationID)
		}
		return out, err
	}

	slog.InfoContext(ctx, "auto reply sent",
		"source", out.Source,
		"kind", string(out.Kind),
		"message", logger.Truncate(msg.Text, 50))
	return out, nil
}

// send waits for the rate limiter and delivers out on the live session.
func (t *task) send(ctx context.Context, conversationID, recipientID string, out reply.Outcome) error {
	sess := t.currentSession()
	if sess == nil {
		return fmt.Errorf("account %s: %w", t.accountID, ErrNotRunning)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.o.cfg.SendTimeout)
	defer cancel()

	var err error
	if out.ImageURL != "" {
		if img, ok := sess.(livesession.ImageSender); ok {
			err = img.SendImage(sendCtx, conversationID, recipientID, out.ImageURL)
		} else {
			err = sess.Send(sendCtx, conversationID, recipientID, out.ImageURL)
		}
	} else {
		err = sess.Send(sendCtx, conversationID, recipientID, out.Text)
	}
	if err != nil {
		return &TransientConnectionError{AccountID: t.accountID, Op: "send", Err: err}
	}
	return nil
}

// forgetDefaultRecord undoes the reply-once record after a failed send so
// the next message can try again.
func (t *task) forgetDefaultRecord(ctx context.Context, conversationID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.o.cfg.StoreTimeout)
	defer cancel()
	if err := t.o.store.DeleteDefaultReplyRecord(ctx, t.accountID, conversationID); err != nil {
		slog.ErrorContext(ctx, "failed to delete default reply record after send failure", "error", err)
	}
}

func (t *task) pauseConversation(ctx context.Context, conversationID string) error {
	storeCtx, cancel := context.WithTimeout(ctx, t.o.cfg.StoreTimeout)
	acct, err := t.o.store.GetAccount(storeCtx, t.accountID)
	cancel()
	if err != nil {
		return fmt.Errorf("loading pause duration: %w", err)
	}
	if acct.PauseMinutes <= 0 {
		return nil
	}

	until := t.o.now().Add(time.Duration(acct.PauseMinutes) * time.Minute)
	t.markPaused(conversationID, until)

	slog.InfoContext(ctx, "seller replied manually, pausing automated replies", "until", until)
	return nil
}

// markPaused records the pause and drops every pause that already ran out,
// so conversations never seen again do not accumulate.
func (t *task) markPaused(conversationID string, until time.Time) {
	now := t.o.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, u := range t.paused {
		if !now.Before(u) {
			delete(t.paused, id)
		}
	}
	t.paused[conversationID] = until
}

func (t *task) isPaused(conversationID string) bool {
	now := t.o.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.paused[conversationID]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(t.paused, conversationID)
	return false
}
