package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// exclusiveWeight is acquired by exclusive handlers; shared handlers acquire 1.
// Acquisition is FIFO, so a waiting writer holds back later readers.
const exclusiveWeight = 1 << 30

// keyLocks provides single-writer/multi-reader fencing per object key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until the key can be held in the requested mode or ctx is
// done. The returned func releases the hold.
func (l *keyLocks) acquire(ctx context.Context, key string, exclusive bool) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(exclusiveWeight)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	weight := int64(1)
	if exclusive {
		weight = exclusiveWeight
	}
	if err := kl.sem.Acquire(ctx, weight); err != nil {
		l.unref(key, kl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.sem.Release(weight)
			l.unref(key, kl)
		})
	}, nil
}

func (l *keyLocks) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys currently have holders or waiters.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
