package backends

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// contentTypeSuffix names the sidecar file that records an entry's content type.
const contentTypeSuffix = ".ctype"

// Disk implements Backend using the local file system.
// Each bucket is a subdirectory of baseDir and keys map onto relative paths.
type Disk struct {
	root string
}

// NewDisk creates a new disk-based backend for bucket under baseDir.
func NewDisk(baseDir, bucket string) (*Disk, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("disk backend directory is empty")
	}
	if strings.TrimSpace(bucket) == "" || strings.ContainsAny(bucket, `/\`) {
		return nil, fmt.Errorf("invalid bucket name: %q", bucket)
	}

	root := filepath.Join(baseDir, bucket)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}

	return &Disk{
		root: root,
	}, nil
}

// Root returns the directory backing this bucket.
func (d *Disk) Root() string {
	return d.root
}

// Exists reports whether key is stored.
func (d *Disk) Exists(_ context.Context, key string) (bool, error) {
	path, err := d.keyToPath(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// GetText reads a small UTF-8 entry.
func (d *Disk) GetText(_ context.Context, key string) (string, bool) {
	path, err := d.keyToPath(key)
	if err != nil {
		return "", false
	}

	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// PutBytes atomically writes data to key.
func (d *Disk) PutBytes(_ context.Context, key string, data []byte, contentType string) error {
	path, err := d.keyToPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	if err := writeAtomic(dir, path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	// The content type is informational; losing it does not invalidate the entry.
	if contentType != "" {
		_ = writeAtomic(dir, path+contentTypeSuffix, []byte(contentType))
	}

	return nil
}

// ContentType returns the content type recorded for key, if any.
func (d *Disk) ContentType(key string) string {
	path, err := d.keyToPath(key)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path + contentTypeSuffix)
	if err != nil {
		return ""
	}
	return string(data)
}

// Delete removes key. It is not part of Backend; the cache never deletes
// entries, but operators and tests sometimes need to.
func (d *Disk) Delete(key string) error {
	path, err := d.keyToPath(key)
	if err != nil {
		return err
	}
	os.Remove(path + contentTypeSuffix)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Close performs cleanup operations.
func (d *Disk) Close() error {
	// No cleanup needed for disk backend
	return nil
}

// keyToPath converts a store key to a file path under the bucket root,
// rejecting keys that would escape it.
func (d *Disk) keyToPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(d.root, clean), nil
}

// writeAtomic writes data to a temp file in dir and renames it over path.
func writeAtomic(dir, path string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // Clean up if something goes wrong

	_, err = tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
