// Package login tracks QR-code login sessions from challenge to a terminal
// status.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

var ErrUnknownSession = errors.New("unknown login session")

// Challenge is what the platform hands back when a QR login starts.
type Challenge struct {
	Ref    string // provider-side handle
	QRCode string // data URL or content to render as a QR code
}

// ProviderStatus is the platform's view of a challenge. Credential is set
// when Status is success.
type ProviderStatus struct {
	Status     model.LoginStatus
	Credential credential.Blob
	Message    string
}

// Provider talks to the platform's login endpoints.
type Provider interface {
	CreateChallenge(ctx context.Context) (Challenge, error)
	PollChallenge(ctx context.Context, ref string) (ProviderStatus, error)
}

type entry struct {
	session model.LoginSession
	ref     string
}

type Manager struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewManager(provider Provider, challengeTTL time.Duration) *Manager {
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	return &Manager{
		provider: provider,
		ttl:      challengeTTL,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// GenerateLoginChallenge starts a login for owner and returns the pending
// session, including the QR code to show.
func (m *Manager) GenerateLoginChallenge(ctx context.Context, ownerID int64) (model.LoginSession, error) {
	ch, err := m.provider.CreateChallenge(ctx)
	if err != nil {
		return model.LoginSession{}, fmt.Errorf("creating login challenge: %w", err)
	}

	sess := model.LoginSession{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    model.LoginStatusPending,
		QRCode:    ch.QRCode,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &entry{session: sess, ref: ch.Ref}
	m.mu.Unlock()

	slog.InfoContext(ctx, "login challenge created", "login_session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Get returns the session as last observed, without polling.
func (m *Manager) Get(id string) (model.LoginSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return model.LoginSession{}, false
	}
	return e.session, true
}

// PollSessionStatus asks the provider for progress on a pending session.
// Terminal sessions are returned as is; a session older than the challenge
// TTL becomes expired. Provider errors leave the session pending.
func (m *Manager) PollSessionStatus(ctx context.Context, id string) (model.LoginSession, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return model.LoginSession{}, fmt.Errorf("%s: %w", id, ErrUnknownSession)
	}
	if e.session.Status.Terminal() {
		sess := e.session
		m.mu.Unlock()
		return sess, nil
	}
	if m.now().Sub(e.session.CreatedAt) > m.ttl {
		sess := m.finishLocked(e, model.LoginStatusExpired, nil, "", "login challenge expired")
		m.mu.Unlock()
		return sess, nil
	}
	ref := e.ref
	m.mu.Unlock()

	ps, err := m.provider.PollChallenge(ctx, ref)
	if err != nil {
		return m.snapshot(id), fmt.Errorf("polling login challenge: %w", err)
	}

	var identity string
	if ps.Status == model.LoginStatusSuccess {
		identity, err = ps.Credential.Identity()
		if err != nil {
			ps = ProviderStatus{Status: model.LoginStatusError, Message: err.Error()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok = m.sessions[id]
	if !ok {
		return model.LoginSession{}, fmt.Errorf("%s: %w", id, ErrUnknownSession)
	}
	if e.session.Status.Terminal() || !ps.Status.Terminal() {
		return e.session, nil
	}
	return m.finishLocked(e, ps.Status, ps.Credential, identity, ps.Message), nil
}

func (m *Manager) snapshot(id string) model.LoginSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e.session
	}
	return model.LoginSession{}
}

func (m *Manager) finishLocked(e *entry, status model.LoginStatus, cred credential.Blob, identity, message string) model.LoginSession {
	now := m.now()
	e.session.Status = status
	e.session.Credential = cred
	e.session.Identity = identity
	e.session.Error = message
	e.session.FinishedAt = &now
	e.session.QRCode = ""
	return e.session
}

// Reap drops terminal sessions that finished before cutoff and pending
// ones created before it.
func (m *Manager) Reap(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		stamp := e.session.CreatedAt
		if e.session.FinishedAt != nil {
			stamp = *e.session.FinishedAt
		}
		if stamp.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
