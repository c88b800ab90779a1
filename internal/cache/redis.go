package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisTier implements RemoteTier on a shared Redis instance. Payloads are
// stored as raw bytes under a namespaced key with no expiry: the cache never
// evicts, re-fetching is the only way an entry changes.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier connects to Redis at addr. addr may be a plain host:port or a
// redis:// / rediss:// URL.
func NewRedisTier(ctx context.Context, addr string) (*RedisTier, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisTier{client: client, prefix: "pipeline_cache:"}, nil
}

// Compile-time interface check.
var _ RemoteTier = (*RedisTier)(nil)

// Get retrieves a payload. Returns ErrKeyNotFound when the key is absent.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put stores a payload, replacing any prior value.
func (t *RedisTier) Put(ctx context.Context, key string, data []byte) error {
	return t.client.Set(ctx, t.prefix+key, data, 0).Err()
}

// Close releases the underlying connection.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
