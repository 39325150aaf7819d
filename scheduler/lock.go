package scheduler

import (
	"context"
	"sync"
	"time"
)

// ServerMutex guards OnOneServer rules so that only one scheduler process
// runs a given tick of a rule.
type ServerMutex interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// taskLock is the single-process ServerMutex used when no shared mutex is
// configured. Keys expire after their ttl.
type taskLock struct {
	locks sync.Map
	now   func() time.Time
}

func newTaskLock(now func() time.Time) *taskLock {
	return &taskLock{now: now}
}

func (l *taskLock) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.now()
	expires := now.Add(ttl)
	for {
		prev, loaded := l.locks.LoadOrStore(key, expires)
		if !loaded {
			return true, nil
		}
		if now.Before(prev.(time.Time)) {
			return false, nil
		}
		if l.locks.CompareAndSwap(key, prev, expires) {
			return true, nil
		}
	}
}

func (l *taskLock) Unlock(_ context.Context, key string) error {
	l.locks.Delete(key)
	return nil
}
