package backends

import (
	"context"
)

// Backend defines the interface for blob storage backends.
//
// A Backend is an opaque key-value object store addressed by store-relative
// keys such as "media/<hash>/video.mp4". It is the single source of truth for
// cache state; nothing above it caches existence.
//
// Implementations must be thread-safe. No conditional or compare-and-swap
// primitive is assumed: callers rely only on overwrite semantics, so two
// concurrent writers of the same key simply race to the same final state.
type Backend interface {
	// Exists reports whether key is present. A missing key is (false, nil),
	// never an error.
	Exists(ctx context.Context, key string) (bool, error)

	// GetText reads a small UTF-8 entry. ok is false if the key is absent or
	// could not be read; lookups that use it are speculative, so failures
	// are not surfaced as errors.
	GetText(ctx context.Context, key string) (text string, ok bool)

	// PutBytes stores data under key, replacing any existing entry.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error

	// Close releases any resources held by the backend.
	Close() error
}
