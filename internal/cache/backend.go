package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Backend is a key-value store with per-key expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// RedisBackend stores entries in redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to url and pings it.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// LocalBackend keeps entries in process memory.
type LocalBackend struct {
	c *gocache.Cache
}

func NewLocalBackend(cleanup time.Duration) *LocalBackend {
	return &LocalBackend{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	b.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (b *LocalBackend) Close() error {
	b.c.Flush()
	return nil
}

// OpenBackend returns a redis backend when url is set and reachable, and a
// local one otherwise.
func OpenBackend(ctx context.Context, url string) Backend {
	if url != "" {
		b, err := NewRedisBackend(ctx, url)
		if err == nil {
			return b
		}
		log.Warn().Str("component", "cache").Err(err).Msg("redis unavailable, using local cache")
	}
	return NewLocalBackend(10 * time.Minute)
}
