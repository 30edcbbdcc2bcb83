package model

import (
	"time"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
)

type LoginStatus string

const (
	LoginStatusPending LoginStatus = "pending"
	LoginStatusSuccess LoginStatus = "success"
	LoginStatusExpired LoginStatus = "expired"
	LoginStatusError   LoginStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s LoginStatus) Terminal() bool {
	return s == LoginStatusSuccess || s == LoginStatusExpired || s == LoginStatusError
}

// LoginSession is one QR-code login attempt. Credential and Identity are
// only set once Status is success.
type LoginSession struct {
	ID         string          `json:"id"`
	OwnerID    int64           `json:"owner_id"`
	Status     LoginStatus     `json:"status"`
	Credential credential.Blob `json:"-"`
	Identity   string          `json:"identity,omitempty"`
	QRCode     string          `json:"qr_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// LoginProcessedRecord remembers that a successful login was applied.
type LoginProcessedRecord struct {
	SessionID   string    `json:"session_id"`
	Processed   bool      `json:"processed"`
	AccountID   string    `json:"account_id,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
