package auth

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionKeyPrefix namespaces session keys in redis
const DefaultSessionKeyPrefix = "gymauth:session:"

// RedisSessionStore keeps session entries in redis with a TTL
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a store over client. A zero ttl stores keys
// without expiry.
func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		prefix: DefaultSessionKeyPrefix,
		ttl:    ttl,
	}
}

// WithPrefix overrides the key prefix
func (s *RedisSessionStore) WithPrefix(prefix string) *RedisSessionStore {
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (*SessionEntry, error) {
	payload, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, WrapError(ErrStoreUnavailable, err)
	}

	entry := &SessionEntry{}
	if err := json.Unmarshal(payload, entry); err != nil {
		// unreadable payloads are dropped and treated as a miss
		_ = s.client.Del(ctx, s.redisKey(key)).Err()
		return nil, ErrSessionNotFound
	}
	entry.Key = key

	return entry, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, entry *SessionEntry) error {
	if entry == nil || entry.Key == "" {
		return DeriveError(ErrValidation, "session key is required", nil)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return WrapError(ErrInternal, err)
	}

	if err := s.client.Set(ctx, s.redisKey(entry.Key), payload, s.ttl).Err(); err != nil {
		return WrapError(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return WrapError(ErrStoreUnavailable, err)
	}
	return nil
}

// Clear removes every key under the prefix. Keys are collected by a full
// SCAN before any are deleted, since deleting mid-iteration can make the
// cursor skip keys.
func (s *RedisSessionStore) Clear(ctx context.Context) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return WrapError(ErrStoreUnavailable, err)
	}

	for batch := range slices.Chunk(keys, 100) {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return WrapError(ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *RedisSessionStore) redisKey(key string) string {
	return s.prefix + key
}
