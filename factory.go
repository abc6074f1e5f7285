package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/richardartoul/mediacache/backends"
	"github.com/richardartoul/mediacache/dedupe"
)

// createBackend opens the configured backend for bucket and wraps it with
// fault injection and debug logging as configured.
func createBackend(ctx context.Context, cfg Config, bucket string, logger *slog.Logger) (backends.Backend, error) {
	var backend backends.Backend
	var err error

	switch strings.ToLower(cfg.Backend) {
	case BackendS3:
		backend, err = backends.NewS3(ctx, backends.S3Config{
			Bucket:          bucket,
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			AccessKeySecret: cfg.AccessKeySecret,
			UsePathStyle:    cfg.UsePathStyle,
		})

	case BackendGCS:
		backend, err = backends.NewGCS(ctx, backends.GCSConfig{
			Bucket:          bucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			Endpoint:        cfg.GCSEndpoint,
		})

	case BackendDisk:
		backend, err = backends.NewDisk(cfg.DiskDir, bucket)

	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: s3, gcs, disk)", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	// Wrap with error backend if error rate is configured
	if cfg.ErrorRate > 0 {
		backend = backends.NewError(backend, cfg.ErrorRate)
		logger.Debug("error injection enabled", "rate", fmt.Sprintf("%.2f%%", cfg.ErrorRate*100))
	}

	// Wrap with debug backend if debug mode is enabled
	if cfg.Debug {
		backend = backends.NewDebug(backend, logger)
	}

	return backend, nil
}

// createDedupeGroup returns the configured Locker and a closer for any
// connection it holds.
func createDedupeGroup(cfg Config) (dedupe.Locker, io.Closer, error) {
	switch strings.ToLower(cfg.DedupeType) {
	case "memory", "":
		// Default: in-process per-key lock
		return dedupe.NewMemLock(), nopCloser{}, nil

	case "fslock", "fs":
		// Filesystem-backed deduplication
		group, err := dedupe.NewFlockGroup(cfg.DedupeLockDir, cfg.LockTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create fslock group: %w", err)
		}
		return group, nopCloser{}, nil

	case "redis":
		// Shared lease for processes on different hosts
		lock := dedupe.NewRedisLock(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.LockTimeout, cfg.LockTimeout)
		return lock, lock, nil

	case "noop":
		// No deduplication (useful for testing)
		return dedupe.NewNoOpGroup(), nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown dedupe type: %s (supported: memory, fslock, redis, noop)", cfg.DedupeType)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
