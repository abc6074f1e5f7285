package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 10 * time.Minute
	lockRetryDelay     = 50 * time.Millisecond
)

// FSLockGroup is a Locker implementation that uses filesystem locks for mutual exclusion.
// It uses the gofrs/flock library to ensure only one execution happens for a given key
// at a time across all goroutines and processes on a host. Unlike MemLock, this does not
// share results - each caller will execute the function once they acquire the lock.
type FSLockGroup struct {
	lockDir string
	timeout time.Duration
}

// NewFlockGroup creates a new FSLockGroup.
// lockDir is the directory where lock files will be created.
// If lockDir is empty, it defaults to os.TempDir()/mediacache-dedupe-locks.
// timeout bounds lock acquisition; zero means the default of ten minutes,
// which is long enough for another process to finish a large download.
func NewFlockGroup(lockDir string, timeout time.Duration) (*FSLockGroup, error) {
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), "mediacache-dedupe-locks")
	}
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}

	// Ensure lock directory exists
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FSLockGroup{
		lockDir: lockDir,
		timeout: timeout,
	}, nil
}

// DoWithLock executes fn while holding the filesystem lock for key.
func (g *FSLockGroup) DoWithLock(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	// Hash the key to create a safe filename
	hash := sha256.Sum256([]byte(key))
	lockPath := filepath.Join(g.lockDir, hex.EncodeToString(hash[:])+".lock")

	fileLock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	acquired, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("failed to acquire lock: timeout")
	}
	defer fileLock.Unlock()

	return fn()
}
