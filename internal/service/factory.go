package service

import (
	"github.com/legeling/xianyu-auto-reply/internal/session"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

// Deps are the long-lived collaborators the services are built from.
type Deps struct {
	Stores   *store.Stores
	TxRunner TxRunner
	Tokens   session.Store
	Hasher   PasswordHasher
	Accounts AccountManager
	Global   GlobalReloader
	Login    LoginManager
	Guard    SessionChecker
	Events   EventLister
}

type Services struct {
	deps Deps
}

func NewServices(deps Deps) *Services {
	if deps.Hasher == nil {
		deps.Hasher = NewArgon2()
	}
	return &Services{deps: deps}
}

func (s *Services) Auth() AuthService {
	return NewAuthService(s.deps.Stores.Owners(), s.deps.Tokens, s.deps.Hasher, s.deps.TxRunner)
}

func (s *Services) Accounts() AccountService {
	return NewAccountService(s.deps.Accounts, s.deps.Stores.All(), s.deps.Global)
}

func (s *Services) LoginFlow() LoginFlowService {
	return NewLoginFlowService(s.deps.Login, s.deps.Guard)
}

func (s *Services) Events() EventService {
	return NewEventService(s.deps.Events, s.deps.Stores.All())
}
