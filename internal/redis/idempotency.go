package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore caches create idempotency keys so a retried request can
// be answered without touching the bookings table. The unique column on
// bookings remains the authority; this cache just short-circuits replays.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Lookup returns the booking ID previously stored for the key, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	if s == nil || key == "" {
		return "", false, nil
	}
	val, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return val, true, nil
}

// Save records the booking created for the key.
func (s *IdempotencyStore) Save(ctx context.Context, key, bookingID string) error {
	if s == nil || key == "" {
		return nil
	}
	if err := s.client.Set(ctx, idempotencyKey(key), bookingID, s.ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}

func idempotencyKey(key string) string {
	return "idem:booking:" + key
}
