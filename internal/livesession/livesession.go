// Package livesession defines the per-account persistent connection to the
// marketplace chat platform. Framing, encryption and heartbeats live behind
// the interface.
package livesession

import (
	"context"
	"errors"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
)

var (
	// ErrCredentialRejected means the platform refused the credential.
	// Reconnecting with the same credential will not help.
	ErrCredentialRejected = errors.New("credential rejected by platform")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("live session closed")
)

// InboundMessage is one event received on a live session. FromSelf marks
// messages the seller typed on another device.
type InboundMessage struct {
	ConversationID string `json:"conversation_id"`
	ItemID         string `json:"item_id,omitempty"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Text           string `json:"text"`
	FromSelf       bool   `json:"from_self,omitempty"`
}

// Session is one live connection. Listen's channel is closed when the
// connection drops or ctx is cancelled. Close is safe to call more than once.
type Session interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) (<-chan InboundMessage, error)
	Send(ctx context.Context, conversationID, recipientID, text string) error
	Close() error
}

// ImageSender is implemented by sessions that can send an image by reference.
type ImageSender interface {
	SendImage(ctx context.Context, conversationID, recipientID, imageURL string) error
}

// Dialer creates an unconnected session for one account.
type Dialer interface {
	Dial(accountID string, cred credential.Blob) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(accountID string, cred credential.Blob) (Session, error)

func (f DialerFunc) Dial(accountID string, cred credential.Blob) (Session, error) {
	return f(accountID, cred)
}
