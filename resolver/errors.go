package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrBlankMediaLocator is returned when the media locator is empty after trimming.
	ErrBlankMediaLocator = errors.New("media locator must not be blank")
	// ErrBlankSourceLocator is returned when a required source locator is empty after trimming.
	ErrBlankSourceLocator = errors.New("source locator must not be blank")
)

// StoreError reports a failed blob-store operation. A failure part way
// through the miss path may leave an incomplete media directory behind; the
// next call sees it as absent and fetches again.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrBlankMediaLocator) || errors.Is(err, ErrBlankSourceLocator)
}
