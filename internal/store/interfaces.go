package store

import (
	"context"
	"errors"

	"github.com/legeling/xianyu-auto-reply/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("conflict")
)

// AccountStore defines the contract for seller account data access
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountsByOwner(ctx context.Context, ownerID int64) ([]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListEnabledAccounts(ctx context.Context) ([]model.Account, error)
	// SaveAccount inserts or updates by ID. CredentialVersion is bumped
	// when the stored credential bytes change.
	SaveAccount(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetAutoConfirm(ctx context.Context, id string, enabled bool) error
	SetPauseDuration(ctx context.Context, id string, minutes int) error
	SetRemark(ctx context.Context, id string, remark string) error
}

// KeywordStore defines the contract for keyword rule data access.
// Rules are returned in stored order.
type KeywordStore interface {
	GetKeywordRules(ctx context.Context, accountID string) ([]model.KeywordRule, error)
	// ReplaceTextKeywordRules swaps every text rule of the account for rules.
	// Image rules are preserved.
	ReplaceTextKeywordRules(ctx context.Context, accountID string, rules []model.KeywordRule) error
	AddImageKeywordRule(ctx context.Context, rule *model.KeywordRule) error
	// DeleteKeywordRule removes the rule in scope, of either kind. It
	// returns ErrNotFound when no rule occupies that slot.
	DeleteKeywordRule(ctx context.Context, accountID string, scope model.RuleScope) error
}

// DefaultReplyStore defines the contract for default reply policies and
// the reply-once records.
type DefaultReplyStore interface {
	// GetDefaultReplyPolicy returns ErrNotFound when the account has no policy.
	GetDefaultReplyPolicy(ctx context.Context, accountID string) (*model.DefaultReplyPolicy, error)
	SaveDefaultReplyPolicy(ctx context.Context, policy model.DefaultReplyPolicy) error
	HasDefaultReplyRecord(ctx context.Context, accountID, conversationID string) (bool, error)
	// InsertDefaultReplyRecord is conditional: inserted is false when a
	// record already exists.
	InsertDefaultReplyRecord(ctx context.Context, accountID, conversationID string) (inserted bool, err error)
	DeleteDefaultReplyRecord(ctx context.Context, accountID, conversationID string) error
	ClearDefaultReplyRecords(ctx context.Context, accountID string) (int64, error)
}

// OwnerStore defines the contract for owner data access
type OwnerStore interface {
	GetByID(ctx context.Context, id int64) (*model.Owner, error)
	GetByUsername(ctx context.Context, username string) (*model.Owner, error)
	Create(ctx context.Context, owner *model.Owner) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

// Store is everything the orchestrator and reply engine need.
type Store interface {
	AccountStore
	KeywordStore
	DefaultReplyStore
}
