// Package orchestrator supervises one live session per enabled seller
// account and applies administrative changes to them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/legeling/xianyu-auto-reply/common/keylock"
	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

type Config struct {
	MaxConsecutiveFailures int
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
	ConnectTimeout         time.Duration
	SendTimeout            time.Duration
	StoreTimeout           time.Duration
	SendRatePerSec         float64
	SendBurst              int
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// Resolver picks the reply for an inbound message.
type Resolver interface {
	Resolve(ctx context.Context, req reply.Request) (reply.Outcome, error)
}

// Orchestrator owns the task map. The map mutex is held only for reads and
// writes of the map itself; operations on one account serialize through a
// per-account lock so they never block other accounts.
type Orchestrator struct {
	store    store.Store
	dialer   livesession.Dialer
	resolver Resolver
	reporter Reporter
	cfg      Config
	locks    *keylock.Registry
	now      func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

func New(st store.Store, dialer livesession.Dialer, resolver Resolver, reporter Reporter, cfg Config) *Orchestrator {
	if reporter == nil {
		reporter = nopReporter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      st,
		dialer:     dialer,
		resolver:   resolver,
		reporter:   reporter,
		cfg:        cfg.withDefaults(),
		locks:      keylock.New(),
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[string]*task),
	}
}

// Start loads every enabled account and starts its task.
func (o *Orchestrator) Start(ctx context.Context) error {
	res, err := o.ReloadFromStore(ctx)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	slog.InfoContext(ctx, "orchestrator started", "accounts", len(res.Started))
	return nil
}

// Shutdown cancels every task and waits for all of them to close their
// sessions, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.StoreTimeout)
}

func (o *Orchestrator) getTask(id string) *task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tasks[id]
}

// startTask launches a task for acct. The caller holds acct's lock and has
// stopped any previous task.
func (o *Orchestrator) startTask(acct *model.Account) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrShuttingDown
	}

	t := newTask(o, acct)
	ctx, cancel := context.WithCancel(o.baseCtx)
	t.cancel = cancel
	o.tasks[acct.ID] = t

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		t.run(ctx)
	}()
	return nil
}

// stopTask cancels id's task and waits until it has closed its session.
// A missing task is a no-op.
func (o *Orchestrator) stopTask(ctx context.Context, id string) error {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if ok {
		delete(o.tasks, id)
	}
	o.mu.Unlock()

	if !ok {
		return nil
	}

	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for account %s to stop: %w", id, ctx.Err())
	}
}

func (o *Orchestrator) restartTask(ctx context.Context, acct *model.Account) error {
	if err := o.stopTask(ctx, acct.ID); err != nil {
		return err
	}
	return o.startTask(acct)
}

func (o *Orchestrator) loadAccount(ctx context.Context, id string) (*model.Account, error) {
	sctx, cancel := o.storeCtx(ctx)
	defer cancel()

	acct, err := o.store.GetAccount(sctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return acct, nil
}

// AddAccount registers id for owner and starts its task. Re-adding an id
// the same owner already holds replaces the credential and enables it.
func (o *Orchestrator) AddAccount(ctx context.Context, id string, cred credential.Blob, ownerID int64) (*model.Account, error) {
	if id == "" {
		return nil, &ConfigurationError{Reason: "account id is required"}
	}
	if cred.Empty() {
		return nil, &ConfigurationError{AccountID: id, Reason: "credential is required"}
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	acct, err := o.loadAccount(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		acct = &model.Account{
			ID:           id,
			OwnerID:      ownerID,
			Enabled:      true,
			AutoConfirm:  true,
			PauseMinutes: model.DefaultPauseMinutes,
		}
	case err != nil:
		return nil, err
	case acct.OwnerID != ownerID:
		return nil, &ConflictError{AccountID: id, Reason: "account id belongs to another owner"}
	}

	acct.Credential = cred
	acct.Enabled = true

	sctx, cancel := o.storeCtx(ctx)
	err = o.store.SaveAccount(sctx, acct)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("saving account %s: %w", id, err)
	}

	if err := o.restartTask(ctx, acct); err != nil {
		return acct, err
	}
	return acct, nil
}

// RemoveAccount stops id's task, waits for its session to close, then
// deletes the account. Unknown ids are a no-op.
func (o *Orchestrator) RemoveAccount(ctx context.Context, id string) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	if err := o.stopTask(ctx, id); err != nil {
		return err
	}

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.store.DeleteAccount(sctx, id); err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return nil
}

// UpdateCredential persists cred and restarts only id's task. An identical
// credential is a no-op and restarted is false.
func (o *Orchestrator) UpdateCredential(ctx context.Context, id string, cred credential.Blob) (restarted bool, err error) {
	if cred.Empty() {
		return false, &ConfigurationError{AccountID: id, Reason: "credential is required"}
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	acct, err := o.loadAccount(ctx, id)
	if err != nil {
		return false, err
	}
	if acct.Credential.Equal(cred) {
		return false, nil
	}

	acct.Credential = cred
	sctx, cancel := o.storeCtx(ctx)
	err = o.store.SaveAccount(sctx, acct)
	cancel()
	if err != nil {
		return false, fmt.Errorf("saving credential for %s: %w", id, err)
	}

	if !acct.Enabled {
		return false, nil
	}
	if err := o.restartTask(ctx, acct); err != nil {
		return false, err
	}
	return true, nil
}

// SetEnabled persists the flag; disabling stops the task and enabling
// starts one when none is alive.
func (o *Orchestrator) SetEnabled(ctx context.Context, id string, enabled bool) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	sctx, cancel := o.storeCtx(ctx)
	err := o.store.SetEnabled(sctx, id, enabled)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("setting enabled for %s: %w", id, err)
	}

	if !enabled {
		return o.stopTask(ctx, id)
	}

	if t := o.getTask(id); t != nil && !t.finished() {
		return nil
	}
	acct, err := o.loadAccount(ctx, id)
	if err != nil {
		return err
	}
	return o.restartTask(ctx, acct)
}

// UpdateKeywords replaces the account's text rules. Image rules are kept
// and count toward (keyword, item) uniqueness.
func (o *Orchestrator) UpdateKeywords(ctx context.Context, id string, rules []model.KeywordRule) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	if _, err := o.loadAccount(ctx, id); err != nil {
		return err
	}

	existing, err := o.currentRules(ctx, id)
	if err != nil {
		return err
	}
	taken := make(map[model.RuleScope]bool)
	for _, r := range existing {
		if r.Kind == model.KeywordKindImage {
			taken[r.ScopeKey()] = true
		}
	}

	cleaned := make([]model.KeywordRule, 0, len(rules))
	for _, r := range rules {
		r.AccountID = id
		r.Kind = model.KeywordKindText
		if r.Keyword == "" {
			return &ConfigurationError{AccountID: id, Reason: "keyword must not be empty"}
		}
		if taken[r.ScopeKey()] {
			return &ConflictError{AccountID: id, Reason: fmt.Sprintf("duplicate keyword %q", r.Keyword)}
		}
		taken[r.ScopeKey()] = true
		cleaned = append(cleaned, r)
	}

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.store.ReplaceTextKeywordRules(sctx, id, cleaned); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return &ConflictError{AccountID: id, Reason: "duplicate keyword"}
		}
		return fmt.Errorf("replacing keywords for %s: %w", id, err)
	}
	return nil
}

// AddImageKeyword appends an image rule after the existing rules.
func (o *Orchestrator) AddImageKeyword(ctx context.Context, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error) {
	if keyword == "" || imageURL == "" {
		return nil, &ConfigurationError{AccountID: id, Reason: "keyword and image url are required"}
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	if _, err := o.loadAccount(ctx, id); err != nil {
		return nil, err
	}

	rule := &model.KeywordRule{
		AccountID: id,
		ItemID:    itemID,
		Keyword:   keyword,
		Kind:      model.KeywordKindImage,
		ImageURL:  imageURL,
	}

	existing, err := o.currentRules(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.ScopeKey() == rule.ScopeKey() {
			return nil, &ConflictError{AccountID: id, Reason: fmt.Sprintf("duplicate keyword %q", keyword)}
		}
	}

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.store.AddImageKeywordRule(sctx, rule); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &ConflictError{AccountID: id, Reason: fmt.Sprintf("duplicate keyword %q", keyword)}
		}
		return nil, fmt.Errorf("adding image keyword for %s: %w", id, err)
	}
	return rule, nil
}

// RemoveKeywordRule deletes the text or image rule occupying (keyword,
// itemID). The remaining rules keep their stored order.
func (o *Orchestrator) RemoveKeywordRule(ctx context.Context, id, keyword string, itemID *string) error {
	if keyword == "" {
		return &ConfigurationError{AccountID: id, Reason: "keyword is required"}
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	if _, err := o.loadAccount(ctx, id); err != nil {
		return err
	}

	scope := model.KeywordRule{Keyword: keyword, ItemID: itemID}.ScopeKey()
	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	err := o.store.DeleteKeywordRule(sctx, id, scope)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("account %s keyword %q: %w", id, keyword, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("removing keyword for %s: %w", id, err)
	}
	return nil
}

func (o *Orchestrator) currentRules(ctx context.Context, id string) ([]model.KeywordRule, error) {
	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	rules, err := o.store.GetKeywordRules(sctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading keywords for %s: %w", id, err)
	}
	return rules, nil
}

func (o *Orchestrator) SetAutoConfirm(ctx context.Context, id string, enabled bool) error {
	return o.updateSetting(ctx, id, "auto confirm", func(sctx context.Context) error {
		return o.store.SetAutoConfirm(sctx, id, enabled)
	})
}

// SetPauseDuration sets how long automated replies stay paused after the
// seller answers a conversation manually. Zero disables pausing.
func (o *Orchestrator) SetPauseDuration(ctx context.Context, id string, minutes int) error {
	if minutes < 0 {
		return &ConfigurationError{AccountID: id, Reason: "pause duration must not be negative"}
	}
	return o.updateSetting(ctx, id, "pause duration", func(sctx context.Context) error {
		return o.store.SetPauseDuration(sctx, id, minutes)
	})
}

// MaxRemarkLength bounds the operator note kept on an account.
const MaxRemarkLength = 512

func (o *Orchestrator) SetRemark(ctx context.Context, id, remark string) error {
	if len(remark) > MaxRemarkLength {
		return &ConfigurationError{AccountID: id, Reason: fmt.Sprintf("remark must be at most %d bytes", MaxRemarkLength)}
	}
	return o.updateSetting(ctx, id, "remark", func(sctx context.Context) error {
		return o.store.SetRemark(sctx, id, remark)
	})
}

func (o *Orchestrator) SetDefaultReply(ctx context.Context, policy model.DefaultReplyPolicy) error {
	if policy.Enabled && policy.Text == "" {
		return &ConfigurationError{AccountID: policy.AccountID, Reason: "default reply text is required when enabled"}
	}
	unlock := o.locks.Lock(policy.AccountID)
	defer unlock()

	if _, err := o.loadAccount(ctx, policy.AccountID); err != nil {
		return err
	}

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.store.SaveDefaultReplyPolicy(sctx, policy); err != nil {
		return fmt.Errorf("saving default reply for %s: %w", policy.AccountID, err)
	}
	return nil
}

// ClearDefaultReplyRecords lets every conversation receive the default
// reply again. Returns the number of records removed.
func (o *Orchestrator) ClearDefaultReplyRecords(ctx context.Context, id string) (int64, error) {
	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	n, err := o.store.ClearDefaultReplyRecords(sctx, id)
	if err != nil {
		return 0, fmt.Errorf("clearing default reply records for %s: %w", id, err)
	}
	return n, nil
}

func (o *Orchestrator) updateSetting(ctx context.Context, id, name string, fn func(context.Context) error) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	sctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := fn(sctx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("setting %s for %s: %w", name, id, err)
	}
	return nil
}

type ReloadResult struct {
	Started   []string `json:"started"`
	Stopped   []string `json:"stopped"`
	Restarted []string `json:"restarted"`
}

// ReloadFromStore resynchronizes the task map with the store's enabled
// accounts. Tasks whose stored credential changed are restarted.
func (o *Orchestrator) ReloadFromStore(ctx context.Context) (ReloadResult, error) {
	sctx, cancel := o.storeCtx(ctx)
	enabled, err := o.store.ListEnabledAccounts(sctx)
	cancel()
	if err != nil {
		return ReloadResult{}, fmt.Errorf("listing enabled accounts: %w", err)
	}

	want := make(map[string]*model.Account, len(enabled))
	for i := range enabled {
		want[enabled[i].ID] = &enabled[i]
	}

	o.mu.Lock()
	running := make(map[string]*task, len(o.tasks))
	for id, t := range o.tasks {
		running[id] = t
	}
	o.mu.Unlock()

	var (
		resMu sync.Mutex
		res   ReloadResult
	)
	record := func(list *[]string, id string) {
		resMu.Lock()
		*list = append(*list, id)
		resMu.Unlock()
	}

	// Candidates only; reconcile decides from a fresh read under the lock.
	ids := make(map[string]struct{}, len(want)+len(running))
	for id := range running {
		if _, ok := want[id]; !ok {
			ids[id] = struct{}{}
		}
	}
	for id, acct := range want {
		if t, ok := running[id]; !ok || !t.matches(acct) {
			ids[id] = struct{}{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for id := range ids {
		g.Go(func() error {
			action, err := o.reconcile(gctx, id)
			if err != nil {
				return err
			}
			switch action {
			case reconcileStarted:
				record(&res.Started, id)
			case reconcileStopped:
				record(&res.Stopped, id)
			case reconcileRestarted:
				record(&res.Restarted, id)
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Strings(res.Started)
	sort.Strings(res.Stopped)
	sort.Strings(res.Restarted)
	if err != nil {
		return res, fmt.Errorf("reloading accounts: %w", err)
	}

	slog.InfoContext(ctx, "accounts reloaded from store",
		"started", len(res.Started),
		"stopped", len(res.Stopped),
		"restarted", len(res.Restarted))
	return res, nil
}

type reconcileAction int

const (
	reconcileNone reconcileAction = iota
	reconcileStarted
	reconcileStopped
	reconcileRestarted
)

// reconcile brings id's task in line with the stored account. The account
// is re-read under id's lock so a concurrent remove, disable or credential
// update is never undone by a stale listing.
func (o *Orchestrator) reconcile(ctx context.Context, id string) (reconcileAction, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	acct, err := o.loadAccount(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return reconcileNone, err
	}

	t := o.getTask(id)
	switch {
	case acct == nil || !acct.Enabled:
		if t == nil {
			return reconcileNone, nil
		}
		if err := o.stopTask(ctx, id); err != nil {
			return reconcileNone, err
		}
		return reconcileStopped, nil
	case t == nil:
		if err := o.startTask(acct); err != nil {
			return reconcileNone, err
		}
		return reconcileStarted, nil
	case !t.matches(acct):
		if err := o.restartTask(ctx, acct); err != nil {
			return reconcileNone, err
		}
		return reconcileRestarted, nil
	default:
		return reconcileNone, nil
	}
}

// Dispatch runs the reply path for msg on the account's live session, as
// if it had arrived on the stream. It shares the reply-once guard.
func (o *Orchestrator) Dispatch(ctx context.Context, accountID string, msg livesession.InboundMessage) (reply.Outcome, error) {
	t := o.getTask(accountID)
	if t == nil || t.currentSession() == nil {
		return reply.Outcome{}, fmt.Errorf("account %s: %w", accountID, ErrNotRunning)
	}
	return t.handleSafe(ctx, msg)
}

// SendMessage sends text through the account's live session.
func (o *Orchestrator) SendMessage(ctx context.Context, accountID, conversationID, recipientID, text string) error {
	if conversationID == "" || recipientID == "" || text == "" {
		return &ConfigurationError{AccountID: accountID, Reason: "conversation, recipient and text are required"}
	}
	t := o.getTask(accountID)
	if t == nil {
		return fmt.Errorf("account %s: %w", accountID, ErrNotRunning)
	}
	return t.send(ctx, conversationID, recipientID, reply.Outcome{Kind: reply.Matched, Text: text})
}

func (o *Orchestrator) Status(id string) (TaskStatus, bool) {
	t := o.getTask(id)
	if t == nil {
		return TaskStatus{AccountID: id, State: StateStopped}, false
	}
	return t.status(), true
}

// Snapshot returns every tracked task's status ordered by account id.
func (o *Orchestrator) Snapshot() []TaskStatus {
	o.mu.Lock()
	tasks := make([]*task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
