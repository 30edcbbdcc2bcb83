package reply

import (
	"strings"

	"github.com/legeling/xianyu-auto-reply/internal/model"
)

// ItemStrategy matches rules scoped to the message's listing.
type ItemStrategy struct{}

func (ItemStrategy) Name() string { return "item" }

func (ItemStrategy) Match(mc MatchContext) (Outcome, bool) {
	if mc.Request.ItemID == "" {
		return Outcome{}, false
	}
	return firstMatch(mc.Rules, mc.Request.Text, func(r model.KeywordRule) bool {
		return r.ItemScoped() && *r.ItemID == mc.Request.ItemID
	})
}

// AccountStrategy matches rules with no item scope.
type AccountStrategy struct{}

func (AccountStrategy) Name() string { return "account" }

func (AccountStrategy) Match(mc MatchContext) (Outcome, bool) {
	return firstMatch(mc.Rules, mc.Request.Text, func(r model.KeywordRule) bool {
		return !r.ItemScoped()
	})
}

// GlobalSource supplies the shared fallback table.
type GlobalSource interface {
	Keywords() []model.GlobalKeyword
}

type GlobalStrategy struct {
	Table GlobalSource
}

func (GlobalStrategy) Name() string { return "global" }

func (g GlobalStrategy) Match(mc MatchContext) (Outcome, bool) {
	for _, kw := range g.Table.Keywords() {
		if kw.Keyword != "" && strings.Contains(mc.Request.Text, kw.Keyword) {
			return Outcome{Text: kw.Reply}, true
		}
	}
	return Outcome{}, false
}

// firstMatch is a case-sensitive substring scan in stored order. Empty
// keywords never match.
func firstMatch(rules []model.KeywordRule, text string, eligible func(model.KeywordRule) bool) (Outcome, bool) {
	for _, r := range rules {
		if r.Keyword == "" || !eligible(r) {
			continue
		}
		if !strings.Contains(text, r.Keyword) {
			continue
		}
		if r.Kind == model.KeywordKindImage {
			return Outcome{ImageURL: r.ImageURL}, true
		}
		return Outcome{Text: r.Reply}, true
	}
	return Outcome{}, false
}
