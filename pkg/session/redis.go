package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "cactuar:session:"

// RedisStore keeps session bags as Redis hashes with a TTL, for deployments
// running more than one provider instance
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store and verifies the
// connection
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Client exposes the underlying connection for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(sid string) string {
	return redisKeyPrefix + sid
}

// Get returns the value for key, with false when absent
func (s *RedisStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, redisKey(sid), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	return value, true, nil
}

// Set stores a value and refreshes the session TTL
func (s *RedisStore) Set(ctx context.Context, sid, key, value string) error {
	k := redisKey(sid)
	if err := s.client.HSet(ctx, k, key, value).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh session TTL: %w", err)
	}
	return nil
}

// Delete removes a single key
func (s *RedisStore) Delete(ctx context.Context, sid, key string) error {
	if err := s.client.HDel(ctx, redisKey(sid), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session key: %w", err)
	}
	return nil
}

// Destroy removes the whole session
func (s *RedisStore) Destroy(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, redisKey(sid)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Cleanup is a no-op: Redis expires sessions through key TTLs
func (s *RedisStore) Cleanup(ctx context.Context) (int64, error) {
	return 0, nil
}
