// Package locking implements lock.Locker in process and on Redis.
package locking

import (
	"context"
	"sync"

	"spendchain/internal/core/lock"
)

// Local is an in-process keyed mutex. It serializes goroutines of a single
// instance; use Redis when several instances share a database.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// WithLock implements lock.Locker.
func (l *Local) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = lock.Normalize(keys)

	held := make([]string, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()

	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			return lock.NotAcquired(key, err)
		}
		held = append(held, key)
	}

	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, s)
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.unref(key, s)
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

var _ lock.Locker = (*Local)(nil)
