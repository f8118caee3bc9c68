package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore implements SessionStore on a shared Redis so several
// server instances can complete each other's authorization attempts.
// Consume uses GETDEL, which is atomic on the server.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "sheetgate:"
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix + "session:",
	}
}

func (s *RedisSessionStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisSessionStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis session: put failed: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis session: get failed: %w", err)
	}
	return value, true, nil
}

func (s *RedisSessionStore) Consume(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis session: consume failed: %w", err)
	}
	return value, true, nil
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisSessionStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Ping checks connectivity, used at startup and by the health endpoint.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
