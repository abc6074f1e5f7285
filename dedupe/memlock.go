package dedupe

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MemLock is an in-process implementation of Locker. Calls with the same key
// run one at a time; each caller runs its own fn with its own context, so a
// later caller sees whatever the earlier one left in the store.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewMemLock creates a new MemLock.
func NewMemLock() *MemLock {
	return &MemLock{locks: make(map[string]*keyLock)}
}

// DoWithLock waits for the key to be free, then runs fn on the calling
// goroutine. A caller whose ctx ends while waiting returns ctx.Err() without
// running fn. The key is released even if fn panics.
func (m *MemLock) DoWithLock(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := m.acquireRef(key)
	defer m.releaseRef(key, l)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return fn()
}

func (m *MemLock) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *MemLock) releaseRef(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
