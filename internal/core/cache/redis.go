package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// RedisSessionCache implements domain.SessionCache on a shared Redis instance
// so every gateway replica sees the same sessions.
type RedisSessionCache struct {
	client redis.UniversalClient
}

// NewRedisSessionCache connects to Redis and verifies the connection.
func NewRedisSessionCache(ctx context.Context, addr, password string, db int) (*RedisSessionCache, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisSessionCache{client: client}, nil
}

// NewRedisSessionCacheFromClient wraps an existing client.
func NewRedisSessionCacheFromClient(client redis.UniversalClient) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

// Get returns the cached session or (nil, nil) on a miss.
func (c *RedisSessionCache) Get(ctx context.Context, key string) (*domain.ValidatedSession, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var session domain.ValidatedSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode cached session: %w", err)
	}
	return &session, nil
}

// Set stores the session with the given ttl. A non-positive ttl is a no-op
// since Redis would otherwise keep the key forever.
func (c *RedisSessionCache) Set(ctx context.Context, key string, session *domain.ValidatedSession, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes the entry for key.
func (c *RedisSessionCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (c *RedisSessionCache) Close() error {
	return c.client.Close()
}

var _ domain.SessionCache = (*RedisSessionCache)(nil)
