package model

import (
	"time"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
)

// DefaultPauseMinutes is applied to new accounts when no pause is given.
const DefaultPauseMinutes = 10

// Account is one seller identity on the marketplace.
type Account struct {
	ID                string          `json:"id"`
	OwnerID           int64           `json:"owner_id"`
	Credential        credential.Blob `json:"-"`
	CredentialVersion int             `json:"credential_version"`
	Enabled           bool            `json:"enabled"`
	AutoConfirm       bool            `json:"auto_confirm"`
	PauseMinutes      int             `json:"pause_minutes"` // 0 disables pausing
	Remark            string          `json:"remark,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type KeywordKind string

const (
	KeywordKindText  KeywordKind = "text"
	KeywordKindImage KeywordKind = "image"
)

// KeywordRule maps a substring trigger to a reply. A nil ItemID makes the
// rule account-wide. Within one account (Keyword, ItemID) is unique across
// both kinds.
type KeywordRule struct {
	AccountID string      `json:"account_id"`
	ItemID    *string     `json:"item_id,omitempty"`
	Keyword   string      `json:"keyword"`
	Reply     string      `json:"reply"`
	Kind      KeywordKind `json:"kind"`
	ImageURL  string      `json:"image_url,omitempty"`
	Position  int         `json:"position"`
}

// ItemScoped reports whether the rule only applies to one listing.
func (r KeywordRule) ItemScoped() bool {
	return r.ItemID != nil && *r.ItemID != ""
}

// RuleScope is a rule's uniqueness slot. An empty ItemID is account-wide.
type RuleScope struct {
	Keyword string
	ItemID  string
}

func (r KeywordRule) ScopeKey() RuleScope {
	if r.ItemScoped() {
		return RuleScope{Keyword: r.Keyword, ItemID: *r.ItemID}
	}
	return RuleScope{Keyword: r.Keyword}
}

type DefaultReplyPolicy struct {
	AccountID string `json:"account_id"`
	Enabled   bool   `json:"enabled"`
	Text      string `json:"text"`
	Once      bool   `json:"once"`
}

// DefaultReplyRecord marks that the default reply was sent once in a conversation.
type DefaultReplyRecord struct {
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id"`
	SentAt         time.Time `json:"sent_at"`
}

// GlobalKeyword is a fallback rule shared by every account.
type GlobalKeyword struct {
	Keyword string `json:"keyword"`
	Reply   string `json:"reply"`
}
