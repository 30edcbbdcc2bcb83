package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	principal Principal
	issuedAt  time.Time
}

// MemoryStore keeps tokens in process memory. A restart invalidates all of
// them.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Issue(_ context.Context, p Principal) (string, error) {
	token, hash, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.entries[hash] = memoryEntry{principal: p, issuedAt: s.now()}
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryStore) Validate(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnknown
	}
	hash := hashToken(token)

	s.mu.RLock()
	e, ok := s.entries[hash]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, ErrUnknown
	}

	if expired(e.issuedAt, s.now(), s.ttl) {
		s.mu.Lock()
		delete(s.entries, hash)
		s.mu.Unlock()
		return Principal{}, ErrExpired
	}
	return e.principal, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, hashToken(token))
	s.mu.Unlock()
	return nil
}

// Purge drops every expired token and returns how many were removed.
func (s *MemoryStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash, e := range s.entries {
		if expired(e.issuedAt, now, s.ttl) {
			delete(s.entries, hash)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
