// Package gateway adapts the protocol gateway sidecar to the live session,
// login and credential refresh contracts. The sidecar owns the marketplace
// wire protocol.
package gateway

import (
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
)

// Frame types exchanged on the live socket.
const (
	frameHello     = "hello"
	frameReady     = "ready"
	frameRejected  = "rejected"
	frameMessage   = "message"
	frameSend      = "send"
	frameSendImage = "send_image"
	frameError     = "error"
)

// statusCredentialRejected is the close code the gateway uses when the
// platform refuses an account credential.
const statusCredentialRejected = 4401

type frame struct {
	Type           string                      `json:"type"`
	AccountID      string                      `json:"account_id,omitempty"`
	Credential     string                      `json:"credential,omitempty"`
	ConversationID string                      `json:"conversation_id,omitempty"`
	RecipientID    string                      `json:"recipient_id,omitempty"`
	Text           string                      `json:"text,omitempty"`
	ImageURL       string                      `json:"image_url,omitempty"`
	Message        *livesession.InboundMessage `json:"message,omitempty"`
	Reason         string                      `json:"reason,omitempty"`
}
