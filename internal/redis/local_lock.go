package redisclient

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is an in-process Locker for single-instance deployments and
// tests. Each queue gets a one-slot semaphore so waiting honours ctx and the
// wait bound the same way the Redis locker does.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		slots: make(map[uuid.UUID]chan struct{}),
	}
}

func (l *LocalLocker) slot(queueID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[queueID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[queueID] = ch
	}
	return ch
}

func (l *LocalLocker) WithQueueLock(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context) error) error {
	ch := l.slot(queueID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return fmt.Errorf("acquire queue lock: %w", ctx.Err())
	}
	defer func() { <-ch }()

	return fn(ctx)
}

func sortUUIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
}
