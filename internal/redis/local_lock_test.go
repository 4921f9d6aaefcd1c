package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocalLocker_SerializesSameQueue(t *testing.T) {
	l := NewLocalLocker(5 * time.Second)
	queueID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithQueueLock(context.Background(), queueID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
}

func TestLocalLocker_TimesOut(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	queueID := uuid.New()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithQueueLock(context.Background(), queueID, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := l.WithQueueLock(context.Background(), queueID, func(ctx context.Context) error {
		t.Fatal("should not run while the lock is held")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
}

func TestLocalLocker_IndependentQueues(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	a, b := uuid.New(), uuid.New()

	err := l.WithQueueLock(context.Background(), a, func(ctx context.Context) error {
		return l.WithQueueLock(ctx, b, func(ctx context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("different queues should not block each other: %v", err)
	}
}

func TestWithQueueLocks_DedupesAndPropagatesError(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	id := uuid.New()
	boom := errors.New("boom")

	calls := 0
	err := WithQueueLocks(context.Background(), l, []uuid.UUID{id, uuid.Nil, id}, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once, ran %d times", calls)
	}

	// lock must be free again
	if err := l.WithQueueLock(context.Background(), id, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}
