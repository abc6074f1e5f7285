package dedupe

import "context"

// NoOpGroup runs every call immediately without coordination. Concurrent
// resolutions of the same locator may then fetch twice; their writes are
// plain overwrites of identical content.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

// DoWithLock calls fn.
func (n *NoOpGroup) DoWithLock(_ context.Context, _ string, fn func() (interface{}, error)) (interface{}, error) {
	return fn()
}
