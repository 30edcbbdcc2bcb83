package loginguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/legeling/xianyu-auto-reply/common/logger"
	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
)

const DefaultRefreshTimeout = 30 * time.Second

type RefreshKind string

const (
	Refreshed   RefreshKind = "refreshed"
	FallbackRaw RefreshKind = "fallback_raw"
)

// RefreshOutcome is the tagged result of exchanging a login-derived
// credential. Reason is set only for FallbackRaw.
type RefreshOutcome struct {
	Kind       RefreshKind
	Credential credential.Blob
	Reason     error
}

type ApplyResult struct {
	AccountID      string      `json:"account_id"`
	Created        bool        `json:"created"`
	Restarted      bool        `json:"restarted"`
	Refresh        RefreshKind `json:"refresh"`
	FallbackReason string      `json:"fallback_reason,omitempty"`
}

// Refresher exchanges a just-issued login credential for a long-lived one.
type Refresher interface {
	Refresh(ctx context.Context, accountID string, raw credential.Blob) (credential.Blob, error)
}

// AccountLister is the read side the id lookup needs.
type AccountLister interface {
	GetAccountsByOwner(ctx context.Context, ownerID int64) ([]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Registrar is satisfied by *orchestrator.Orchestrator.
type Registrar interface {
	AddAccount(ctx context.Context, id string, cred credential.Blob, ownerID int64) (*model.Account, error)
	UpdateCredential(ctx context.Context, id string, cred credential.Blob) (bool, error)
}

// Pipeline is the Applier used in production: find or mint the account id,
// refresh the credential, then register it.
type Pipeline struct {
	accounts       AccountLister
	refresher      Refresher
	registrar      Registrar
	refreshTimeout time.Duration
}

var _ Applier = (*Pipeline)(nil)

func NewPipeline(accounts AccountLister, refresher Refresher, registrar Registrar, refreshTimeout time.Duration) *Pipeline {
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	return &Pipeline{
		accounts:       accounts,
		refresher:      refresher,
		registrar:      registrar,
		refreshTimeout: refreshTimeout,
	}
}

func (p *Pipeline) Apply(ctx context.Context, sess model.LoginSession) (*ApplyResult, error) {
	sc := logger.StartSpan(ctx, "loginguard.apply")
	defer sc.End()
	ctx = sc.Context()

	identity := sess.Identity
	if identity == "" {
		var err error
		if identity, err = sess.Credential.Identity(); err != nil {
			sc.RecordError(err)
			return nil, &orchestrator.ConfigurationError{Reason: err.Error()}
		}
	}

	id, existing, err := p.resolveAccountID(ctx, sess.OwnerID, identity)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{AccountID: &id})
	sc.SetAttributes(
		attribute.String("account_id", id),
		attribute.Bool("existing", existing),
	)

	outcome := p.refresh(ctx, id, sess.Credential)
	result := &ApplyResult{AccountID: id, Created: !existing, Refresh: outcome.Kind}
	if outcome.Reason != nil {
		result.FallbackReason = outcome.Reason.Error()
		slog.WarnContext(ctx, "credential refresh failed, using raw login credential", "error", outcome.Reason)
	}

	if existing {
		restarted, err := p.registrar.UpdateCredential(ctx, id, outcome.Credential)
		if err != nil {
			sc.RecordError(err)
			return nil, fmt.Errorf("updating account %s: %w", id, err)
		}
		result.Restarted = restarted
		return result, nil
	}

	if _, err := p.registrar.AddAccount(ctx, id, outcome.Credential, sess.OwnerID); err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("adding account %s: %w", id, err)
	}
	result.Restarted = true
	return result, nil
}

func (p *Pipeline) refresh(ctx context.Context, id string, raw credential.Blob) RefreshOutcome {
	if p.refresher == nil {
		return RefreshOutcome{Kind: FallbackRaw, Credential: raw, Reason: errors.New("no refresher configured")}
	}

	rctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
	defer cancel()

	cred, err := p.refresher.Refresh(rctx, id, raw)
	if err == nil && cred.Empty() {
		err = errors.New("refresher returned an empty credential")
	}
	if err != nil {
		return RefreshOutcome{
			Kind:       FallbackRaw,
			Credential: raw,
			Reason:     &orchestrator.CredentialRefreshError{AccountID: id, Err: err},
		}
	}
	return RefreshOutcome{Kind: Refreshed, Credential: cred}
}

// resolveAccountID reuses the owner's account with the same remote identity.
// Otherwise it mints the identity itself, suffixed _1, _2, ... until it
// collides with no existing account of any owner.
func (p *Pipeline) resolveAccountID(ctx context.Context, ownerID int64, identity string) (string, bool, error) {
	owned, err := p.accounts.GetAccountsByOwner(ctx, ownerID)
	if err != nil {
		return "", false, fmt.Errorf("listing owner accounts: %w", err)
	}
	for _, a := range owned {
		if got, err := a.Credential.Identity(); err == nil && got == identity {
			return a.ID, true, nil
		}
	}

	all, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return "", false, fmt.Errorf("listing accounts: %w", err)
	}
	taken := make(map[string]struct{}, len(all))
	for _, a := range all {
		taken[a.ID] = struct{}{}
	}
	return mintAccountID(identity, taken), false, nil
}

func mintAccountID(identity string, taken map[string]struct{}) string {
	if _, ok := taken[identity]; !ok {
		return identity
	}
	for n := 1; ; n++ {
		candidate := identity + "_" + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
