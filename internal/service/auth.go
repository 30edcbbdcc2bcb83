package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/legeling/xianyu-auto-reply/common/id"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/session"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("unauthorized")
)

type LoginResult struct {
	Token string
	Owner *model.Owner
}

type AuthService interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, token string) error
	// Authenticate maps a bearer token to its principal. Unknown and
	// expired tokens both wrap ErrUnauthorized.
	Authenticate(ctx context.Context, token string) (session.Principal, error)
	// EnsureOwner creates the owner, or resets their password when it no
	// longer matches.
	EnsureOwner(ctx context.Context, username, password string) (*model.Owner, error)
}

type authService struct {
	owners   store.OwnerStore
	tokens   session.Store
	hasher   PasswordHasher
	txRunner TxRunner
}

func NewAuthService(owners store.OwnerStore, tokens session.Store, hasher PasswordHasher, txRunner TxRunner) AuthService {
	return &authService{
		owners:   owners,
		tokens:   tokens,
		hasher:   hasher,
		txRunner: txRunner,
	}
}

func (s *authService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	owner, err := s.owners.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("loading owner: %w", err)
	}

	ok, err := s.hasher.Verify(password, owner.PasswordHash)
	if err != nil {
		slog.ErrorContext(ctx, "stored password hash unreadable", "error", err, "owner_id", owner.ID)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		slog.WarnContext(ctx, "owner login rejected", "username", username)
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(ctx, session.Principal{OwnerID: owner.ID, Username: owner.Username})
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	slog.InfoContext(ctx, "owner logged in", "owner_id", owner.ID)
	return &LoginResult{Token: token, Owner: owner}, nil
}

func (s *authService) Logout(ctx context.Context, token string) error {
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (session.Principal, error) {
	p, err := s.tokens.Validate(ctx, token)
	if errors.Is(err, session.ErrUnknown) || errors.Is(err, session.ErrExpired) {
		return session.Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err != nil {
		return session.Principal{}, fmt.Errorf("validating token: %w", err)
	}
	return p, nil
}

func (s *authService) EnsureOwner(ctx context.Context, username, password string) (*model.Owner, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	var owner *model.Owner
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		existing, err := stores.Owners().GetByUsername(ctx, username)
		switch {
		case errors.Is(err, store.ErrNotFound):
			hash, err := s.hasher.Hash(password)
			if err != nil {
				return err
			}
			owner = &model.Owner{ID: id.New(), Username: username, PasswordHash: hash}
			return stores.Owners().Create(ctx, owner)
		case err != nil:
			return err
		}

		owner = existing
		if ok, _ := s.hasher.Verify(password, existing.PasswordHash); ok {
			return nil
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}
		owner.PasswordHash = hash
		return stores.Owners().UpdatePasswordHash(ctx, existing.ID, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring owner %s: %w", username, err)
	}
	return owner, nil
}
