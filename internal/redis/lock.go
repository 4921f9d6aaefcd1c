package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("queue lock not acquired")
)

// Locker serializes write operations per queue.
type Locker interface {
	WithQueueLock(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context) error) error
}

const retryInterval = 25 * time.Millisecond

type redisQueueLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisQueueLocker creates a locker that uses a per queue Redis key.
// Acquisition is retried for up to wait before giving up.
func NewRedisQueueLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisQueueLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func queueLockKey(queueID uuid.UUID) string {
	return fmt.Sprintf("lock:queue:%s", queueID.String())
}

func (l *redisQueueLocker) WithQueueLock(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context) error) error {
	key := queueLockKey(queueID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even if ctx was cancelled by the caller
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisQueueLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire queue lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(retryInterval).Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire queue lock: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisQueueLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}

// WithQueueLocks takes the locks of every distinct queue in ids in a fixed
// order and runs fn while holding all of them.
func WithQueueLocks(ctx context.Context, l Locker, ids []uuid.UUID, fn func(ctx context.Context) error) error {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sortUUIDs(ordered)

	var run func(ctx context.Context, i int) error
	run = func(ctx context.Context, i int) error {
		if i == len(ordered) {
			return fn(ctx)
		}
		return l.WithQueueLock(ctx, ordered[i], func(ctx context.Context) error {
			return run(ctx, i+1)
		})
	}
	return run(ctx, 0)
}
