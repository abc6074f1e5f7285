package dedupe

import "context"

// Prefixed scopes every key of an underlying Locker under a fixed prefix, so
// that one Locker can be shared between callers whose keys would otherwise
// collide, such as resolvers for different buckets.
type Prefixed struct {
	locker Locker
	prefix string
}

// WithPrefix returns a Locker that prepends prefix to every key.
func WithPrefix(locker Locker, prefix string) *Prefixed {
	return &Prefixed{locker: locker, prefix: prefix}
}

// DoWithLock runs fn under the underlying lock for prefix+key.
func (p *Prefixed) DoWithLock(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	return p.locker.DoWithLock(ctx, p.prefix+key, fn)
}
