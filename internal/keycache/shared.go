package keycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedStore is a cache tier shared across replicas. Implementations are keyed by the
// key's fingerprint and never see the raw key.
type SharedStore interface {
	// Get returns the verdict and its remaining lifetime. found is false on a miss.
	Get(ctx context.Context, fingerprint string) (valid bool, ttl time.Duration, found bool, err error)
	Set(ctx context.Context, fingerprint string, valid bool, ttl time.Duration) error
}

// RedisStore keeps verdicts in Redis as "1"/"0" strings with a native expiry.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps client; prefix namespaces every key written.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get reads a verdict and its remaining TTL in one round trip.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (bool, time.Duration, bool, error) {
	key := s.prefix + fingerprint
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, false, nil
	}
	if err != nil {
		return false, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	ttl := ttlCmd.Val()
	// -1 (no expiry) or -2 (vanished between commands) are both unusable.
	if ttl <= 0 {
		return false, 0, false, nil
	}
	switch val {
	case "1":
		return true, ttl, true, nil
	case "0":
		return false, ttl, true, nil
	default:
		return false, 0, false, fmt.Errorf("redis get %s: unexpected value %q", key, val)
	}
}

// Set stores a verdict that expires after ttl.
func (s *RedisStore) Set(ctx context.Context, fingerprint string, valid bool, ttl time.Duration) error {
	val := "0"
	if valid {
		val = "1"
	}
	if err := s.client.Set(ctx, s.prefix+fingerprint, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s%s: %w", s.prefix, fingerprint, err)
	}
	return nil
}
