package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultFencePrefix = "reserve:driver:"

// Fence guards driver reservations across service instances. TryReserve must
// be atomic: at most one caller wins a given driver until Release or TTL
// expiry.
type Fence interface {
	TryReserve(ctx context.Context, driverID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, driverID uuid.UUID) error
}

// RedisFence implements Fence with SET NX EX. The TTL keeps a crashed
// instance from holding drivers forever.
type RedisFence struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisFence constructs the fence.
func NewRedisFence(client redis.Cmdable, prefix string) *RedisFence {
	if prefix == "" {
		prefix = defaultFencePrefix
	}
	return &RedisFence{client: client, keyPrefix: prefix}
}

// TryReserve acquires the driver's fence key.
func (f *RedisFence) TryReserve(ctx context.Context, driverID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ok, err := f.client.SetNX(ctx, f.keyPrefix+driverID.String(), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release deletes the fence key.
func (f *RedisFence) Release(ctx context.Context, driverID uuid.UUID) error {
	if err := f.client.Del(ctx, f.keyPrefix+driverID.String()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
