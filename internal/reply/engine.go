// Package reply decides which automated reply, if any, answers an inbound
// buyer message. It reads configuration and never writes.
package reply

import (
	"context"
	"errors"
	"fmt"

	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/store"
)

type OutcomeKind string

const (
	Matched            OutcomeKind = "matched"
	DefaultUsed        OutcomeKind = "default_used"
	NoMatch            OutcomeKind = "no_match"
	AlreadyUsedDefault OutcomeKind = "already_used_default"
)

// Outcome is the engine's decision. For DefaultUsed the caller must record
// the conversation before sending when Once is set.
type Outcome struct {
	Kind     OutcomeKind
	Text     string
	ImageURL string
	Source   string // strategy name, or "default"
	Once     bool
}

// Sendable reports whether the outcome carries something to send.
func (o Outcome) Sendable() bool {
	return o.Kind == Matched || o.Kind == DefaultUsed
}

type Request struct {
	AccountID      string
	ConversationID string
	ItemID         string
	Text           string
	SenderID       string
	SenderName     string
}

// Source is the read-only slice of the account store the engine needs.
type Source interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetKeywordRules(ctx context.Context, accountID string) ([]model.KeywordRule, error)
	GetDefaultReplyPolicy(ctx context.Context, accountID string) (*model.DefaultReplyPolicy, error)
	HasDefaultReplyRecord(ctx context.Context, accountID, conversationID string) (bool, error)
}

// MatchContext is what strategies see. Rules are the account's rules in
// stored order, loaded once per resolution.
type MatchContext struct {
	Request Request
	Rules   []model.KeywordRule
}

// Strategy is one step of keyword resolution. ok=false passes to the next.
type Strategy interface {
	Name() string
	Match(mc MatchContext) (Outcome, bool)
}

type Engine struct {
	source     Source
	strategies []Strategy
}

// New builds an engine with the standard order: item-scoped rules,
// account-wide rules, then the global table when one is given.
func New(source Source, global GlobalSource) *Engine {
	strategies := []Strategy{ItemStrategy{}, AccountStrategy{}}
	if global != nil {
		strategies = append(strategies, GlobalStrategy{Table: global})
	}
	return NewWithStrategies(source, strategies...)
}

func NewWithStrategies(source Source, strategies ...Strategy) *Engine {
	return &Engine{source: source, strategies: strategies}
}

// Resolve picks the reply for req. An unknown or disabled account yields
// NoMatch without further reads.
func (e *Engine) Resolve(ctx context.Context, req Request) (Outcome, error) {
	acct, err := e.source.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Kind: NoMatch}, nil
		}
		return Outcome{}, fmt.Errorf("loading account %s: %w", req.AccountID, err)
	}
	if !acct.Enabled {
		return Outcome{Kind: NoMatch}, nil
	}

	rules, err := e.source.GetKeywordRules(ctx, req.AccountID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading keyword rules: %w", err)
	}

	mc := MatchContext{Request: req, Rules: rules}
	for _, s := range e.strategies {
		if out, ok := s.Match(mc); ok {
			out.Kind = Matched
			out.Source = s.Name()
			if out.ImageURL == "" {
				out.Text = Render(out.Text, req)
			}
			return out, nil
		}
	}

	return e.resolveDefault(ctx, req)
}

func (e *Engine) resolveDefault(ctx context.Context, req Request) (Outcome, error) {
	policy, err := e.source.GetDefaultReplyPolicy(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Kind: NoMatch}, nil
		}
		return Outcome{}, fmt.Errorf("loading default reply policy: %w", err)
	}
	if !policy.Enabled || policy.Text == "" {
		return Outcome{Kind: NoMatch}, nil
	}

	if policy.Once {
		used, err := e.source.HasDefaultReplyRecord(ctx, req.AccountID, req.ConversationID)
		if err != nil {
			return Outcome{}, fmt.Errorf("checking default reply record: %w", err)
		}
		if used {
			return Outcome{Kind: AlreadyUsedDefault, Source: "default", Once: true}, nil
		}
	}

	return Outcome{
		Kind:   DefaultUsed,
		Text:   Render(policy.Text, req),
		Source: "default",
		Once:   policy.Once,
	}, nil
}
