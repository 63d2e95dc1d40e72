package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/appointment-booking-engine/internal/logging"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker serializes booking attempts for the same staff member and time
// range across API instances. It is a fast-fail in front of the database
// exclusion constraint, which stays the source of truth. When Redis cannot be
// reached the Redis locker runs fn unlocked; ErrLockNotAcquired means another
// caller holds the lock.
type Locker interface {
	WithSlotLock(ctx context.Context, staffID uuid.UUID, start, end time.Time, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewSlotLocker(client *redis.Client, ttl time.Duration, logger *logging.Logger) Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &redisSlotLocker{client: client, ttl: ttl, logger: logger}
}

func SlotKey(staffID uuid.UUID, start, end time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d:%d", staffID, start.Unix(), end.Unix())
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, staffID uuid.UUID, start, end time.Time, fn func(ctx context.Context) error) error {
	key := SlotKey(staffID, start, end)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		l.logger.Warn("slot lock unavailable, continuing without it", "key", key, "error", err)
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	// release even if the caller's context was cancelled mid-transaction
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// NopLocker runs fn directly. Used when Redis is not configured.
type NopLocker struct{}

func (NopLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, _, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
