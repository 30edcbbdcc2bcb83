// Package session issues and validates short-lived bearer tokens for the
// admin API. Tokens are random; only their sha256 digest is ever stored.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultTTL  = 24 * time.Hour
	tokenLength = 32
)

var (
	ErrUnknown = errors.New("unknown session token")
	ErrExpired = errors.New("session token expired")
)

// Principal is who a token was issued to.
type Principal struct {
	OwnerID  int64  `json:"owner_id"`
	Username string `json:"username"`
}

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	Issue(ctx context.Context, p Principal) (string, error)
	Validate(ctx context.Context, token string) (Principal, error)
	Revoke(ctx context.Context, token string) error
}

func newToken() (token, hash string, err error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func expired(issuedAt, now time.Time, ttl time.Duration) bool {
	return !now.Before(issuedAt.Add(ttl))
}
