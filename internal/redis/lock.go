package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("resource lock not acquired")
)

// Locker guards the booking commit path per resource (professional, room).
// It is a fast-fail convenience in front of the database transaction, not
// the authority on conflicts.
type Locker interface {
	WithResourceLocks(ctx context.Context, resourceIDs []uuid.UUID, fn func(ctx context.Context) error) error
}

type redisResourceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResourceLocker creates a locker keyed per resource ID.
func NewRedisResourceLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisResourceLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisResourceLocker) WithResourceLocks(ctx context.Context, resourceIDs []uuid.UUID, fn func(ctx context.Context) error) error {
	// Stable acquisition order so two requests locking the same pair of
	// resources cannot deadlock each other.
	ids := make([]uuid.UUID, len(resourceIDs))
	copy(ids, resourceIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	token := uuid.NewString()
	var held []string

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(ctx, held[i], token)
		}
	}

	for _, id := range ids {
		key := fmt.Sprintf("lock:resource:%s", id.String())
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			releaseAll()
			return fmt.Errorf("acquire resource lock: %w", err)
		}
		if !ok {
			releaseAll()
			return ErrLockNotAcquired
		}
		held = append(held, key)
	}

	defer releaseAll()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock: %w", err)
	}
	return nil
}

// NopLocker runs the callback without any locking. Used where the Redis
// fast-fail layer is not deployed; the transaction re-check still holds.
type NopLocker struct{}

func (NopLocker) WithResourceLocks(ctx context.Context, _ []uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
