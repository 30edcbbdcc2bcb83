package dto

import (
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
)

type DefaultReplyRequest struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text" binding:"max=4096"`
	Once    bool   `json:"once"`
}

func (r DefaultReplyRequest) ToPolicy(accountID string) model.DefaultReplyPolicy {
	return model.DefaultReplyPolicy{AccountID: accountID, Enabled: r.Enabled, Text: r.Text, Once: r.Once}
}

type DefaultReplyResponse struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
	Once    bool   `json:"once"`
}

func ToDefaultReplyResponse(p *model.DefaultReplyPolicy) DefaultReplyResponse {
	return DefaultReplyResponse{Enabled: p.Enabled, Text: p.Text, Once: p.Once}
}

type ClearRecordsResponse struct {
	Cleared int64 `json:"cleared"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	RecipientID    string `json:"recipient_id" binding:"required"`
	Text           string `json:"text" binding:"required,max=4096"`
}

// ReplyRequest asks the account to resolve and send a reply as if the
// message had arrived on its live session.
type ReplyRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	ItemID         string `json:"item_id"`
	SenderID       string `json:"sender_id" binding:"required"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text" binding:"required"`
}

func (r ReplyRequest) ToInbound() livesession.InboundMessage {
	return livesession.InboundMessage{
		ConversationID: r.ConversationID,
		ItemID:         r.ItemID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		Text:           r.Text,
	}
}

type ReplyResponse struct {
	Kind     reply.OutcomeKind `json:"kind"`
	Text     string            `json:"text,omitempty"`
	ImageURL string            `json:"image_url,omitempty"`
	Source   string            `json:"source,omitempty"`
}

func ToReplyResponse(o reply.Outcome) ReplyResponse {
	return ReplyResponse{Kind: o.Kind, Text: o.Text, ImageURL: o.ImageURL, Source: o.Source}
}
