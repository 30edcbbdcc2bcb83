package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

// ErrForbidden means the account exists but belongs to another owner.
var ErrForbidden = errors.New("account belongs to another owner")

// AccountManager is the orchestrator surface the admin API drives.
type AccountManager interface {
	AddAccount(ctx context.Context, id string, cred credential.Blob, ownerID int64) (*model.Account, error)
	RemoveAccount(ctx context.Context, id string) error
	UpdateCredential(ctx context.Context, id string, cred credential.Blob) (bool, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	UpdateKeywords(ctx context.Context, id string, rules []model.KeywordRule) error
	AddImageKeyword(ctx context.Context, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error)
	RemoveKeywordRule(ctx context.Context, id, keyword string, itemID *string) error
	SetRemark(ctx context.Context, id, remark string) error
	SetAutoConfirm(ctx context.Context, id string, enabled bool) error
	SetPauseDuration(ctx context.Context, id string, minutes int) error
	SetDefaultReply(ctx context.Context, policy model.DefaultReplyPolicy) error
	ClearDefaultReplyRecords(ctx context.Context, id string) (int64, error)
	ReloadFromStore(ctx context.Context) (orchestrator.ReloadResult, error)
	Dispatch(ctx context.Context, accountID string, msg livesession.InboundMessage) (reply.Outcome, error)
	SendMessage(ctx context.Context, accountID, conversationID, recipientID, text string) error
	Status(id string) (orchestrator.TaskStatus, bool)
}

// AccountReader is the read side of the account store the service needs.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountsByOwner(ctx context.Context, ownerID int64) ([]model.Account, error)
	GetKeywordRules(ctx context.Context, accountID string) ([]model.KeywordRule, error)
	GetDefaultReplyPolicy(ctx context.Context, accountID string) (*model.DefaultReplyPolicy, error)
}

// GlobalReloader is satisfied by *reply.GlobalTable.
type GlobalReloader interface {
	Reload() (bool, error)
}

type AccountOverview struct {
	Account model.Account
	Status  orchestrator.TaskStatus
}

type SystemReloadResult struct {
	orchestrator.ReloadResult
	GlobalKeywordsChanged bool `json:"global_keywords_changed"`
}

// AccountService enforces ownership in front of the orchestrator. Every
// method taking ownerID fails with ErrForbidden for someone else's account.
type AccountService interface {
	List(ctx context.Context, ownerID int64) ([]AccountOverview, error)
	Get(ctx context.Context, ownerID int64, id string) (*AccountOverview, error)
	Add(ctx context.Context, ownerID int64, id string, cred credential.Blob) (*model.Account, error)
	Remove(ctx context.Context, ownerID int64, id string) error
	UpdateCredential(ctx context.Context, ownerID int64, id string, cred credential.Blob) (bool, error)
	SetEnabled(ctx context.Context, ownerID int64, id string, enabled bool) error
	Keywords(ctx context.Context, ownerID int64, id string) ([]model.KeywordRule, error)
	UpdateKeywords(ctx context.Context, ownerID int64, id string, rules []model.KeywordRule) error
	AddImageKeyword(ctx context.Context, ownerID int64, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error)
	RemoveKeywordRule(ctx context.Context, ownerID int64, id, keyword string, itemID *string) error
	SetRemark(ctx context.Context, ownerID int64, id, remark string) error
	SetAutoConfirm(ctx context.Context, ownerID int64, id string, enabled bool) error
	SetPauseDuration(ctx context.Context, ownerID int64, id string, minutes int) error
	DefaultReply(ctx context.Context, ownerID int64, id string) (*model.DefaultReplyPolicy, error)
	SetDefaultReply(ctx context.Context, ownerID int64, policy model.DefaultReplyPolicy) error
	ClearDefaultReplyRecords(ctx context.Context, ownerID int64, id string) (int64, error)
	SendMessage(ctx context.Context, ownerID int64, id, conversationID, recipientID, text string) error
	Reply(ctx context.Context, ownerID int64, id string, msg livesession.InboundMessage) (reply.Outcome, error)
	Reload(ctx context.Context) (*SystemReloadResult, error)
}

type accountService struct {
	manager AccountManager
	reader  AccountReader
	global  GlobalReloader
}

func NewAccountService(manager AccountManager, reader AccountReader, global GlobalReloader) AccountService {
	return &accountService{manager: manager, reader: reader, global: global}
}

// authorize loads id and checks it belongs to ownerID.
func (s *accountService) authorize(ctx context.Context, ownerID int64, id string) (*model.Account, error) {
	acct, err := s.reader.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("account %s: %w", id, orchestrator.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	if acct.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", id, ErrForbidden)
	}
	return acct, nil
}

func (s *accountService) overview(acct model.Account) AccountOverview {
	st, _ := s.manager.Status(acct.ID)
	return AccountOverview{Account: acct, Status: st}
}

func (s *accountService) List(ctx context.Context, ownerID int64) ([]AccountOverview, error) {
	accounts, err := s.reader.GetAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]AccountOverview, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, s.overview(a))
	}
	return out, nil
}

func (s *accountService) Get(ctx context.Context, ownerID int64, id string) (*AccountOverview, error) {
	acct, err := s.authorize(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	ov := s.overview(*acct)
	return &ov, nil
}

// Add lets the orchestrator decide conflicts so ids held by other owners
// surface as ConflictError rather than ErrForbidden.
func (s *accountService) Add(ctx context.Context, ownerID int64, id string, cred credential.Blob) (*model.Account, error) {
	return s.manager.AddAccount(ctx, id, cred, ownerID)
}

func (s *accountService) Remove(ctx context.Context, ownerID int64, id string) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.manager.RemoveAccount(ctx, id)
}

func (s *accountService) UpdateCredential(ctx context.Context, ownerID int64, id string, cred credential.Blob) (bool, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return false, err
	}
	return s.manager.UpdateCredential(ctx, id, cred)
}

func (s *accountService) SetEnabled(ctx context.Context, ownerID int64, id string, enabled bool) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.SetEnabled(ctx, id, enabled)
}

func (s *accountService) Keywords(ctx context.Context, ownerID int64, id string) ([]model.KeywordRule, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return nil, err
	}
	rules, err := s.reader.GetKeywordRules(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading keywords for %s: %w", id, err)
	}
	return rules, nil
}

func (s *accountService) UpdateKeywords(ctx context.Context, ownerID int64, id string, rules []model.KeywordRule) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.UpdateKeywords(ctx, id, rules)
}

func (s *accountService) AddImageKeyword(ctx context.Context, ownerID int64, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.manager.AddImageKeyword(ctx, id, keyword, itemID, imageURL)
}

func (s *accountService) RemoveKeywordRule(ctx context.Context, ownerID int64, id, keyword string, itemID *string) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.RemoveKeywordRule(ctx, id, keyword, itemID)
}

func (s *accountService) SetRemark(ctx context.Context, ownerID int64, id, remark string) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.SetRemark(ctx, id, remark)
}

func (s *accountService) SetAutoConfirm(ctx context.Context, ownerID int64, id string, enabled bool) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.SetAutoConfirm(ctx, id, enabled)
}

func (s *accountService) SetPauseDuration(ctx context.Context, ownerID int64, id string, minutes int) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.SetPauseDuration(ctx, id, minutes)
}

// DefaultReply returns a disabled empty policy when none is stored.
func (s *accountService) DefaultReply(ctx context.Context, ownerID int64, id string) (*model.DefaultReplyPolicy, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return nil, err
	}
	p, err := s.reader.GetDefaultReplyPolicy(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &model.DefaultReplyPolicy{AccountID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading default reply for %s: %w", id, err)
	}
	return p, nil
}

func (s *accountService) SetDefaultReply(ctx context.Context, ownerID int64, policy model.DefaultReplyPolicy) error {
	if _, err := s.authorize(ctx, ownerID, policy.AccountID); err != nil {
		return err
	}
	return s.manager.SetDefaultReply(ctx, policy)
}

func (s *accountService) ClearDefaultReplyRecords(ctx context.Context, ownerID int64, id string) (int64, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return 0, err
	}
	return s.manager.ClearDefaultReplyRecords(ctx, id)
}

func (s *accountService) SendMessage(ctx context.Context, ownerID int64, id, conversationID, recipientID, text string) error {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return err
	}
	return s.manager.SendMessage(ctx, id, conversationID, recipientID, text)
}

func (s *accountService) Reply(ctx context.Context, ownerID int64, id string, msg livesession.InboundMessage) (reply.Outcome, error) {
	if _, err := s.authorize(ctx, ownerID, id); err != nil {
		return reply.Outcome{}, err
	}
	return s.manager.Dispatch(ctx, id, msg)
}

// Reload re-reads the global keyword file, then resynchronizes tasks.
func (s *accountService) Reload(ctx context.Context) (*SystemReloadResult, error) {
	out := &SystemReloadResult{}
	if s.global != nil {
		changed, err := s.global.Reload()
		if err != nil {
			return nil, fmt.Errorf("reloading global keywords: %w", err)
		}
		out.GlobalKeywordsChanged = changed
	}

	res, err := s.manager.ReloadFromStore(ctx)
	out.ReloadResult = res
	if err != nil {
		return out, err
	}
	return out, nil
}
