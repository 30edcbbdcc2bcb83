package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

// fakeStore is an in-memory store.Store.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	rules    map[string][]model.KeywordRule
	policies map[string]model.DefaultReplyPolicy
	records  map[string]bool

	// afterList runs once the enabled list is built and the store is unlocked.
	afterList func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]model.Account{},
		rules:    map[string][]model.KeywordRule{},
		policies: map[string]model.DefaultReplyPolicy{},
		records:  map[string]bool{},
	}
}

func (s *fakeStore) put(acct model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.CredentialVersion == 0 {
		acct.CredentialVersion = 1
	}
	s.accounts[acct.ID] = acct
}

func (s *fakeStore) hasRecord(accountID, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[accountID+"/"+conversationID]
}

func (s *fakeStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &acct, nil
}

func (s *fakeStore) GetAccountsByOwner(_ context.Context, ownerID int64) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Account
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) ListEnabledAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.Lock()
	var out []model.Account
	for _, a := range s.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	hook := s.afterList
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *fakeStore) SaveAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *acct
	if prev, ok := s.accounts[acct.ID]; ok {
		saved.CredentialVersion = prev.CredentialVersion
		if !prev.Credential.Equal(acct.Credential) {
			saved.CredentialVersion++
		}
	} else {
		saved.CredentialVersion = 1
	}
	s.accounts[acct.ID] = saved
	*acct = saved
	return nil
}

func (s *fakeStore) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	delete(s.rules, id)
	return nil
}

func (s *fakeStore) update(id string, fn func(*model.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&acct)
	s.accounts[id] = acct
	return nil
}

func (s *fakeStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	return s.update(id, func(a *model.Account) { a.Enabled = enabled })
}

func (s *fakeStore) SetAutoConfirm(_ context.Context, id string, enabled bool) error {
	return s.update(id, func(a *model.Account) { a.AutoConfirm = enabled })
}

func (s *fakeStore) SetPauseDuration(_ context.Context, id string, minutes int) error {
	return s.update(id, func(a *model.Account) { a.PauseMinutes = minutes })
}

func (s *fakeStore) SetRemark(_ context.Context, id string, remark string) error {
	return s.update(id, func(a *model.Account) { a.Remark = remark })
}

func (s *fakeStore) DeleteKeywordRule(_ context.Context, accountID string, scope model.RuleScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[accountID]
	for i, r := range rules {
		if r.ScopeKey() == scope {
			s.rules[accountID] = append(rules[:i:i], rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) GetKeywordRules(_ context.Context, accountID string) ([]model.KeywordRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.KeywordRule(nil), s.rules[accountID]...), nil
}

func (s *fakeStore) ReplaceTextKeywordRules(_ context.Context, accountID string, rules []model.KeywordRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []model.KeywordRule
	for _, r := range s.rules[accountID] {
		if r.Kind == model.KeywordKindImage {
			kept = append(kept, r)
		}
	}
	s.rules[accountID] = append(kept, rules...)
	return nil
}

func (s *fakeStore) AddImageKeywordRule(_ context.Context, rule *model.KeywordRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.Position = len(s.rules[rule.AccountID])
	s.rules[rule.AccountID] = append(s.rules[rule.AccountID], *rule)
	return nil
}

func (s *fakeStore) GetDefaultReplyPolicy(_ context.Context, accountID string) (*model.DefaultReplyPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) SaveDefaultReplyPolicy(_ context.Context, p model.DefaultReplyPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.AccountID] = p
	return nil
}

func (s *fakeStore) HasDefaultReplyRecord(_ context.Context, accountID, conversationID string) (bool, error) {
	return s.hasRecord(accountID, conversationID), nil
}

func (s *fakeStore) InsertDefaultReplyRecord(_ context.Context, accountID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "/" + conversationID
	if s.records[key] {
		return false, nil
	}
	s.records[key] = true
	return true, nil
}

func (s *fakeStore) DeleteDefaultReplyRecord(_ context.Context, accountID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, accountID+"/"+conversationID)
	return nil
}

func (s *fakeStore) ClearDefaultReplyRecords(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	prefix := accountID + "/"
	for k := range s.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

type sentMessage struct {
	ConversationID string
	RecipientID    string
	Text           string
}

type fakeSession struct {
	accountID string
	cred      credential.Blob

	connectErr error
	sendFn     func(conversationID, text string) error

	inbound   chan livesession.InboundMessage
	closeOnce sync.Once

	connects atomic.Int32
	closes   atomic.Int32

	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSession) Connect(context.Context) error {
	s.connects.Add(1)
	return s.connectErr
}

func (s *fakeSession) Listen(context.Context) (<-chan livesession.InboundMessage, error) {
	return s.inbound, nil
}

func (s *fakeSession) Send(_ context.Context, conversationID, recipientID, text string) error {
	if s.sendFn != nil {
		if err := s.sendFn(conversationID, text); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{ConversationID: conversationID, RecipientID: recipientID, Text: text})
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.inbound) })
	return nil
}

func (s *fakeSession) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// push delivers msg unless the session has been closed.
func (s *fakeSession) push(msg livesession.InboundMessage) {
	defer func() { _ = recover() }()
	s.inbound <- msg
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string][]*fakeSession

	connectErrFn func(accountID string) error
	sendFn       func(conversationID, text string) error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: map[string][]*fakeSession{}}
}

func (d *fakeDialer) Dial(accountID string, cred credential.Blob) (livesession.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{
		accountID: accountID,
		cred:      cred,
		inbound:   make(chan livesession.InboundMessage, 16),
		sendFn:    d.sendFn,
	}
	if d.connectErrFn != nil {
		s.connectErr = d.connectErrFn(accountID)
	}
	d.sessions[accountID] = append(d.sessions[accountID], s)
	return s, nil
}

func (d *fakeDialer) dials(accountID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[accountID])
}

func (d *fakeDialer) latest(accountID string) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sessions[accountID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (d *fakeDialer) all(accountID string) []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.sessions[accountID]...)
}

type recordingReporter struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (r *recordingReporter) Report(_ context.Context, ev orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) kinds(accountID string) []orchestrator.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []orchestrator.EventKind
	for _, ev := range r.events {
		if ev.AccountID == accountID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func (r *recordingReporter) last(accountID string, kind orchestrator.EventKind) (orchestrator.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].AccountID == accountID && r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return orchestrator.Event{}, false
}

var errBoom = errors.New("boom")
