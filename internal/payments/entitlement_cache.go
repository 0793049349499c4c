package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gapeva/uplas/pkg/cache"
)

// MemoryEntitlementCache is a per-process cache for single-replica setups.
type MemoryEntitlementCache struct {
	c *cache.TTLCache[uuid.UUID, bool]
}

// NewMemoryEntitlementCache keeps at most capacity users, each for at most
// MaxEntitlementTTL.
func NewMemoryEntitlementCache(capacity int) *MemoryEntitlementCache {
	return &MemoryEntitlementCache{c: cache.NewTTLCache[uuid.UUID, bool](capacity, MaxEntitlementTTL)}
}

// WithClock sets the time source used for expiry.
func (m *MemoryEntitlementCache) WithClock(now Clock) *MemoryEntitlementCache {
	m.c.WithClock(now)
	return m
}

func (m *MemoryEntitlementCache) Get(_ context.Context, userID uuid.UUID) (bool, bool, error) {
	v, ok := m.c.Get(userID)
	return v, ok, nil
}

func (m *MemoryEntitlementCache) Set(_ context.Context, userID uuid.UUID, premium bool, ttl time.Duration) error {
	m.c.SetWithTTL(userID, premium, ttl)
	return nil
}

func (m *MemoryEntitlementCache) Delete(_ context.Context, userID uuid.UUID) error {
	m.c.Delete(userID)
	return nil
}

// RedisEntitlementCache shares entitlements between replicas so an
// invalidation on one replica is seen by all.
type RedisEntitlementCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisEntitlementCache stores entitlements under uplas:entitlement:<user id>.
func NewRedisEntitlementCache(client redis.UniversalClient) *RedisEntitlementCache {
	return &RedisEntitlementCache{client: client, prefix: "uplas:entitlement:"}
}

func (r *RedisEntitlementCache) key(userID uuid.UUID) string {
	return r.prefix + userID.String()
}

func (r *RedisEntitlementCache) Get(ctx context.Context, userID uuid.UUID) (bool, bool, error) {
	v, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (r *RedisEntitlementCache) Set(ctx context.Context, userID uuid.UUID, premium bool, ttl time.Duration) error {
	v := "0"
	if premium {
		v = "1"
	}
	return r.client.Set(ctx, r.key(userID), v, ttl).Err()
}

func (r *RedisEntitlementCache) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
