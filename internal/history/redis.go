package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each history as a JSON string value with an expiry.
// The connection is verified lazily on first use and reused afterwards.
type RedisBackend struct {
	client *redis.Client

	mu        sync.Mutex
	connected bool
}

func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

// Connect pings the server once. It is a no-op while already connected and
// is retried by the next operation after a failure.
func (b *RedisBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	b.connected = true
	return nil
}

func (b *RedisBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *RedisBackend) Load(ctx context.Context, key string) (History, error) {
	if err := b.Connect(ctx); err != nil {
		return nil, err
	}
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decode(raw)
}

func (b *RedisBackend) Save(ctx context.Context, key string, h History, ttl time.Duration) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	raw, err := encode(h)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
