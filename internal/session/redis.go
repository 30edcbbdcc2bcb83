package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

type redisEntry struct {
	Principal
	IssuedAt time.Time `json:"issued_at"`
}

// RedisStore keeps tokens in Redis under a per-process boot id, so tokens
// issued before a restart are unknown afterwards. Keys outlive the token TTL
// by one TTL so an expired token is reported as expired rather than unknown.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: keyPrefix + uuid.NewString() + ":",
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisStore) key(hash string) string {
	return s.prefix + hash
}

func (s *RedisStore) Issue(ctx context.Context, p Principal) (string, error) {
	token, hash, err := newToken()
	if err != nil {
		return "", err
	}

	data, err := encodeEntry(redisEntry{Principal: p, IssuedAt: s.now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(hash), data, 2*s.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing session token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Validate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnknown
	}
	key := s.key(hashToken(token))

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Principal{}, ErrUnknown
	}
	if err != nil {
		return Principal{}, fmt.Errorf("reading session token: %w", err)
	}

	e, err := decodeEntry(data)
	if err != nil {
		return Principal{}, err
	}
	if expired(e.IssuedAt, s.now(), s.ttl) {
		s.client.Del(ctx, key) //nolint:errcheck
		return Principal{}, ErrExpired
	}
	return e.Principal, nil
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(hashToken(token))).Err(); err != nil {
		return fmt.Errorf("revoking session token: %w", err)
	}
	return nil
}

func encodeEntry(e redisEntry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding session entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (redisEntry, error) {
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return redisEntry{}, fmt.Errorf("decoding session entry: %w", err)
	}
	return e, nil
}
