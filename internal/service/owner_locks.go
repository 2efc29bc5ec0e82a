package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ownerLocks serializes indexing runs per key inside one process. Entries are dropped once
// nobody holds or waits for them.
type ownerLocks struct {
	mu   sync.Mutex
	keys map[string]*ownerLock
}

type ownerLock struct {
	sem  *semaphore.Weighted
	refs int
}

func (l *ownerLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()

	if l.keys == nil {
		l.keys = make(map[string]*ownerLock)
	}

	e, ok := l.keys[key]
	if !ok {
		e = &ownerLock{sem: semaphore.NewWeighted(1)}
		l.keys[key] = e
	}

	e.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		e.refs--
		if e.refs == 0 {
			delete(l.keys, key)
		}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		drop()

		return nil, err
	}

	return func() {
		e.sem.Release(1)
		drop()
	}, nil
}
