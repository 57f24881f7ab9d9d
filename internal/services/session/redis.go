package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"event-portal/internal/status"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "portal:session:"

// RedisStore keeps sessions in Redis under a digest of their id, so a leaked
// key listing does not leak usable session ids.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func Key(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	const op = "session.RedisStore.Load"

	if id == "" {
		return nil, fmt.Errorf("%s: %w", op, status.ErrSessionNotFound)
	}

	raw, err := s.rdb.Get(ctx, Key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", op, status.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if sess.ID != id {
		return nil, fmt.Errorf("%s: %w", op, status.ErrSessionNotFound)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	const op = "session.RedisStore.Save"

	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	if err := s.rdb.Set(ctx, Key(sess.ID), string(b), s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, id string) error {
	const op = "session.RedisStore.Clear"

	if err := s.rdb.Del(ctx, Key(id)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
