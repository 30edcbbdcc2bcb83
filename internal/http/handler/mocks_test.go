package handler_test

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/http/middleware"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/loginguard"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/queue"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
	"github.com/legeling/xianyu-auto-reply/internal/service"
	"github.com/legeling/xianyu-auto-reply/internal/session"
)

// asOwner stands in for RequireAuth.
func asOwner(ownerID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := middleware.WithPrincipal(c.Request.Context(), session.Principal{OwnerID: ownerID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type mockAuthService struct {
	loginFn  func(ctx context.Context, username, password string) (*service.LoginResult, error)
	logoutFn func(ctx context.Context, token string) error
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*service.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) Authenticate(context.Context, string) (session.Principal, error) {
	return session.Principal{}, service.ErrUnauthorized
}

func (m *mockAuthService) EnsureOwner(context.Context, string, string) (*model.Owner, error) {
	return nil, nil
}

type mockAccountService struct {
	listFn             func(ctx context.Context, ownerID int64) ([]service.AccountOverview, error)
	getFn              func(ctx context.Context, ownerID int64, id string) (*service.AccountOverview, error)
	addFn              func(ctx context.Context, ownerID int64, id string, cred credential.Blob) (*model.Account, error)
	removeFn           func(ctx context.Context, ownerID int64, id string) error
	updateCredentialFn func(ctx context.Context, ownerID int64, id string, cred credential.Blob) (bool, error)
	setEnabledFn       func(ctx context.Context, ownerID int64, id string, enabled bool) error
	keywordsFn         func(ctx context.Context, ownerID int64, id string) ([]model.KeywordRule, error)
	updateKeywordsFn   func(ctx context.Context, ownerID int64, id string, rules []model.KeywordRule) error
	addImageKeywordFn  func(ctx context.Context, ownerID int64, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error)
	removeKeywordFn    func(ctx context.Context, ownerID int64, id, keyword string, itemID *string) error
	setRemarkFn        func(ctx context.Context, ownerID int64, id, remark string) error
	setPauseFn         func(ctx context.Context, ownerID int64, id string, minutes int) error
	setDefaultReplyFn  func(ctx context.Context, ownerID int64, policy model.DefaultReplyPolicy) error
	sendMessageFn      func(ctx context.Context, ownerID int64, id, conversationID, recipientID, text string) error
	replyFn            func(ctx context.Context, ownerID int64, id string, msg livesession.InboundMessage) (reply.Outcome, error)
	reloadFn           func(ctx context.Context) (*service.SystemReloadResult, error)
}

func (m *mockAccountService) List(ctx context.Context, ownerID int64) ([]service.AccountOverview, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockAccountService) Get(ctx context.Context, ownerID int64, id string) (*service.AccountOverview, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, id)
	}
	return &service.AccountOverview{Account: model.Account{ID: id, OwnerID: ownerID}}, nil
}

func (m *mockAccountService) Add(ctx context.Context, ownerID int64, id string, cred credential.Blob) (*model.Account, error) {
	if m.addFn != nil {
		return m.addFn(ctx, ownerID, id, cred)
	}
	return &model.Account{ID: id, OwnerID: ownerID}, nil
}

func (m *mockAccountService) Remove(ctx context.Context, ownerID int64, id string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, ownerID, id)
	}
	return nil
}

func (m *mockAccountService) UpdateCredential(ctx context.Context, ownerID int64, id string, cred credential.Blob) (bool, error) {
	if m.updateCredentialFn != nil {
		return m.updateCredentialFn(ctx, ownerID, id, cred)
	}
	return false, nil
}

func (m *mockAccountService) SetEnabled(ctx context.Context, ownerID int64, id string, enabled bool) error {
	if m.setEnabledFn != nil {
		return m.setEnabledFn(ctx, ownerID, id, enabled)
	}
	return nil
}

func (m *mockAccountService) Keywords(ctx context.Context, ownerID int64, id string) ([]model.KeywordRule, error) {
	if m.keywordsFn != nil {
		return m.keywordsFn(ctx, ownerID, id)
	}
	return nil, nil
}

func (m *mockAccountService) UpdateKeywords(ctx context.Context, ownerID int64, id string, rules []model.KeywordRule) error {
	if m.updateKeywordsFn != nil {
		return m.updateKeywordsFn(ctx, ownerID, id, rules)
	}
	return nil
}

func (m *mockAccountService) AddImageKeyword(ctx context.Context, ownerID int64, id, keyword string, itemID *string, imageURL string) (*model.KeywordRule, error) {
	if m.addImageKeywordFn != nil {
		return m.addImageKeywordFn(ctx, ownerID, id, keyword, itemID, imageURL)
	}
	return &model.KeywordRule{AccountID: id, Keyword: keyword, Kind: model.KeywordKindImage, ImageURL: imageURL}, nil
}

func (m *mockAccountService) RemoveKeywordRule(ctx context.Context, ownerID int64, id, keyword string, itemID *string) error {
	if m.removeKeywordFn != nil {
		return m.removeKeywordFn(ctx, ownerID, id, keyword, itemID)
	}
	return nil
}

func (m *mockAccountService) SetRemark(ctx context.Context, ownerID int64, id, remark string) error {
	if m.setRemarkFn != nil {
		return m.setRemarkFn(ctx, ownerID, id, remark)
	}
	return nil
}

func (m *mockAccountService) SetAutoConfirm(context.Context, int64, string, bool) error {
	return nil
}

func (m *mockAccountService) SetPauseDuration(ctx context.Context, ownerID int64, id string, minutes int) error {
	if m.setPauseFn != nil {
		return m.setPauseFn(ctx, ownerID, id, minutes)
	}
	return nil
}

func (m *mockAccountService) DefaultReply(_ context.Context, _ int64, id string) (*model.DefaultReplyPolicy, error) {
	return &model.DefaultReplyPolicy{AccountID: id}, nil
}

func (m *mockAccountService) SetDefaultReply(ctx context.Context, ownerID int64, policy model.DefaultReplyPolicy) error {
	if m.setDefaultReplyFn != nil {
		return m.setDefaultReplyFn(ctx, ownerID, policy)
	}
	return nil
}

func (m *mockAccountService) ClearDefaultReplyRecords(context.Context, int64, string) (int64, error) {
	return 2, nil
}

func (m *mockAccountService) SendMessage(ctx context.Context, ownerID int64, id, conversationID, recipientID, text string) error {
	if m.sendMessageFn != nil {
		return m.sendMessageFn(ctx, ownerID, id, conversationID, recipientID, text)
	}
	return nil
}

func (m *mockAccountService) Reply(ctx context.Context, ownerID int64, id string, msg livesession.InboundMessage) (reply.Outcome, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, ownerID, id, msg)
	}
	return reply.Outcome{Kind: reply.NoMatch}, nil
}

func (m *mockAccountService) Reload(ctx context.Context) (*service.SystemReloadResult, error) {
	if m.reloadFn != nil {
		return m.reloadFn(ctx)
	}
	return &service.SystemReloadResult{ReloadResult: orchestrator.ReloadResult{}}, nil
}

type mockLoginFlowService struct {
	startFn func(ctx context.Context, ownerID int64) (model.LoginSession, error)
	checkFn func(ctx context.Context, ownerID int64, id string) (loginguard.Result, error)
}

func (m *mockLoginFlowService) Start(ctx context.Context, ownerID int64) (model.LoginSession, error) {
	if m.startFn != nil {
		return m.startFn(ctx, ownerID)
	}
	return model.LoginSession{}, nil
}

func (m *mockLoginFlowService) Check(ctx context.Context, ownerID int64, id string) (loginguard.Result, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, ownerID, id)
	}
	return loginguard.Result{Status: loginguard.StatusPending}, nil
}

type mockEventService struct {
	recentFn func(ctx context.Context, ownerID int64, accountID string, limit int64) ([]queue.AccountEvent, error)
}

func (m *mockEventService) Recent(ctx context.Context, ownerID int64, accountID string, limit int64) ([]queue.AccountEvent, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, ownerID, accountID, limit)
	}
	return nil, nil
}
