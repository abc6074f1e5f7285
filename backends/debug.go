package backends

import (
	"context"
	"log/slog"
	"time"
)

// Debug wraps any Backend and adds debug logging.
// This allows any backend implementation to have debug logging without
// coupling the debug logic to the backend implementation.
type Debug struct {
	backend Backend
	logger  *slog.Logger
}

// NewDebug creates a new debug wrapper around an existing backend.
func NewDebug(backend Backend, logger *slog.Logger) *Debug {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debug{
		backend: backend,
		logger:  logger.With("component", "backend"),
	}
}

// Exists checks for a key with debug logging.
func (d *Debug) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := d.backend.Exists(ctx, key)
	duration := time.Since(start)

	if err != nil {
		d.logger.Debug("exists failed", "key", key, "error", err, "duration", duration)
		return ok, err
	}

	d.logger.Debug("exists", "key", key, "found", ok, "duration", duration)
	return ok, nil
}

// GetText reads a text entry with debug logging.
func (d *Debug) GetText(ctx context.Context, key string) (string, bool) {
	start := time.Now()
	text, ok := d.backend.GetText(ctx, key)
	duration := time.Since(start)

	if !ok {
		d.logger.Debug("get text: MISS", "key", key, "duration", duration)
		return text, ok
	}

	d.logger.Debug("get text: HIT", "key", key, "bytes", len(text), "duration", duration)
	return text, ok
}

// PutBytes stores an entry with debug logging.
func (d *Debug) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := d.backend.PutBytes(ctx, key, data, contentType)
	duration := time.Since(start)

	if err != nil {
		d.logger.Debug("put failed", "key", key, "size", len(data), "error", err, "duration", duration)
		return err
	}

	d.logger.Debug("put", "key", key, "size", len(data), "contentType", contentType, "duration", duration)
	return nil
}

// Close performs cleanup operations with debug logging.
func (d *Debug) Close() error {
	start := time.Now()
	err := d.backend.Close()
	duration := time.Since(start)

	if err != nil {
		d.logger.Debug("close failed", "error", err, "duration", duration)
	} else {
		d.logger.Debug("closed", "duration", duration)
	}

	return err
}
