package dedupe

import "context"

// Locker serializes concurrent work for the same key.
//
// Implementations differ in scope: the in-memory lock covers one process,
// while the filesystem and redis lockers cover processes or hosts. Every
// implementation runs fn once per caller on the caller's goroutine.
type Locker interface {
	// DoWithLock runs fn while holding the lock for key and returns its
	// results. ctx bounds how long the caller waits to acquire the lock.
	DoWithLock(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error)
}
