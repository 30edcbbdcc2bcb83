package reply_test

import (
	"context"

	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

type mockSource struct {
	account  *model.Account
	rules    []model.KeywordRule
	policy   *model.DefaultReplyPolicy
	recorded map[string]bool

	getAccountFn func(ctx context.Context, id string) (*model.Account, error)
	rulesCalls   int
	policyCalls  int
}

func (m *mockSource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if m.getAccountFn != nil {
		return m.getAccountFn(ctx, id)
	}
	if m.account == nil || m.account.ID != id {
		return nil, store.ErrNotFound
	}
	acct := *m.account
	return &acct, nil
}

func (m *mockSource) GetKeywordRules(_ context.Context, _ string) ([]model.KeywordRule, error) {
	m.rulesCalls++
	return m.rules, nil
}

func (m *mockSource) GetDefaultReplyPolicy(_ context.Context, _ string) (*model.DefaultReplyPolicy, error) {
	m.policyCalls++
	if m.policy == nil {
		return nil, store.ErrNotFound
	}
	p := *m.policy
	return &p, nil
}

func (m *mockSource) HasDefaultReplyRecord(_ context.Context, accountID, conversationID string) (bool, error) {
	return m.recorded[accountID+"/"+conversationID], nil
}
