package service

import (
	"context"
	"fmt"

	"github.com/legeling/xianyu-auto-reply/internal/login"
	"github.com/legeling/xianyu-auto-reply/internal/loginguard"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type LoginManager interface {
	GenerateLoginChallenge(ctx context.Context, ownerID int64) (model.LoginSession, error)
	Get(id string) (model.LoginSession, bool)
}

type SessionChecker interface {
	CheckSession(ctx context.Context, id string) (loginguard.Result, error)
}

// LoginFlowService drives QR-code login for an owner.
type LoginFlowService interface {
	Start(ctx context.Context, ownerID int64) (model.LoginSession, error)
	Check(ctx context.Context, ownerID int64, sessionID string) (loginguard.Result, error)
}

type loginFlowService struct {
	manager LoginManager
	guard   SessionChecker
}

func NewLoginFlowService(manager LoginManager, guard SessionChecker) LoginFlowService {
	return &loginFlowService{manager: manager, guard: guard}
}

func (s *loginFlowService) Start(ctx context.Context, ownerID int64) (model.LoginSession, error) {
	return s.manager.GenerateLoginChallenge(ctx, ownerID)
}

// Check hides sessions started by other owners behind ErrUnknownSession.
func (s *loginFlowService) Check(ctx context.Context, ownerID int64, sessionID string) (loginguard.Result, error) {
	sess, ok := s.manager.Get(sessionID)
	if !ok || sess.OwnerID != ownerID {
		return loginguard.Result{}, fmt.Errorf("%s: %w", sessionID, login.ErrUnknownSession)
	}
	return s.guard.CheckSession(ctx, sessionID)
}
