package whitelist

import (
	"context"

	"github.com/subpay/backend/internal/core"
)

// SetClient is the narrow Redis surface the store needs. Implemented by
// infra.GoRedisAdapter; the indirection keeps this package free of the
// driver and lets main fall back to MemoryStore when Redis is absent.
type SetClient interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
}

// RedisStore keeps the global whitelist as a Redis set, shared across
// engine replicas.
type RedisStore struct {
	client SetClient
	key    string
}

// NewRedisStore creates a store backed by the given Redis set key.
func NewRedisStore(client SetClient, key string) *RedisStore {
	if key == "" {
		key = "subpay:whitelist:global"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Add(ctx context.Context, payee core.Principal) error {
	return s.client.SAdd(ctx, s.key, string(payee))
}

func (s *RedisStore) Remove(ctx context.Context, payee core.Principal) error {
	return s.client.SRem(ctx, s.key, string(payee))
}

func (s *RedisStore) Contains(ctx context.Context, payee core.Principal) (bool, error) {
	return s.client.SIsMember(ctx, s.key, string(payee))
}

// Size returns the current member count (metrics hook).
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, s.key)
}
