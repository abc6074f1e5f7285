package backends

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Op names a Backend operation for fault injection.
type Op string

const (
	OpExists  = Op("exists")
	OpGetText = Op("get")
	OpPut     = Op("put")
	OpClose   = Op("close")
)

// FailFunc reports whether op on key should fail. key is empty for OpClose.
type FailFunc func(op Op, key string) bool

// Error wraps any Backend and returns errors either randomly, based on a
// configured percentage, or deterministically for operations matched by a
// FailFunc. This is useful for testing error handling and resilience.
type Error struct {
	backend   Backend
	errorRate float64 // Percentage of operations that should fail (0.0 to 1.0)
	failFunc  FailFunc

	rng   *rand.Rand
	rngMu sync.Mutex // Protects rng access (rand.Rand is not thread-safe)

	existsErrors atomic.Int64
	getErrors    atomic.Int64
	putErrors    atomic.Int64
	closeErrors  atomic.Int64
}

// NewError creates a new error-injecting wrapper around an existing backend.
// errorRate should be between 0.0 (no errors) and 1.0 (all errors fail).
func NewError(backend Backend, errorRate float64) *Error {
	if errorRate < 0.0 {
		errorRate = 0.0
	}
	if errorRate > 1.0 {
		errorRate = 1.0
	}

	return &Error{
		backend:   backend,
		errorRate: errorRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewErrorFunc creates an error-injecting wrapper that fails exactly the
// operations for which fail returns true.
func NewErrorFunc(backend Backend, fail FailFunc) *Error {
	e := NewError(backend, 0)
	e.failFunc = fail
	return e
}

// shouldError returns true if this operation should fail.
// This method is thread-safe.
func (e *Error) shouldError(op Op, key string) bool {
	if e.failFunc != nil && e.failFunc(op, key) {
		return true
	}
	if e.errorRate == 0 {
		return false
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < e.errorRate
}

func (e *Error) simulated(op Op, key string) error {
	return fmt.Errorf("error backend: simulated %s error for %q (error rate: %.2f%%)", op, key, e.errorRate*100)
}

// Exists checks for a key, potentially returning an error.
func (e *Error) Exists(ctx context.Context, key string) (bool, error) {
	if e.shouldError(OpExists, key) {
		e.existsErrors.Add(1)
		return false, e.simulated(OpExists, key)
	}
	return e.backend.Exists(ctx, key)
}

// GetText reads a text entry, potentially reporting it unreadable.
func (e *Error) GetText(ctx context.Context, key string) (string, bool) {
	if e.shouldError(OpGetText, key) {
		e.getErrors.Add(1)
		return "", false
	}
	return e.backend.GetText(ctx, key)
}

// PutBytes stores an entry, potentially returning an error.
func (e *Error) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	if e.shouldError(OpPut, key) {
		e.putErrors.Add(1)
		return e.simulated(OpPut, key)
	}
	return e.backend.PutBytes(ctx, key, data, contentType)
}

// Close performs cleanup operations, potentially returning an error.
func (e *Error) Close() error {
	if e.shouldError(OpClose, "") {
		e.closeErrors.Add(1)
		return e.simulated(OpClose, "")
	}
	return e.backend.Close()
}

// GetStats returns the number of errors injected for each operation type.
// This method is thread-safe.
func (e *Error) GetStats() (existsErrors, getErrors, putErrors, closeErrors int64) {
	return e.existsErrors.Load(), e.getErrors.Load(), e.putErrors.Load(), e.closeErrors.Load()
}
