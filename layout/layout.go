// Package layout defines how locators map onto keys in the blob store.
//
// Stored artifacts live under two sibling namespaces. The media namespace is
// keyed by the hash of a direct media locator and holds the artifact itself
// next to a marker recording the locator. The source namespace is keyed by the
// hash of an indirect (share) locator and holds only a pointer naming a media
// directory. Every read and write path must build keys through this package:
// a divergence in key derivation or member names does not fail loudly, it
// silently turns every lookup into a first-time fetch.
package layout

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MediaPrefix is the top-level namespace for media directories.
	MediaPrefix = "media/"
	// SourcePrefix is the top-level namespace for source pointers.
	SourcePrefix = "source/"

	// MarkerName holds the verbatim trimmed media locator.
	MarkerName = "url.txt"
	// ArtifactName holds the downloaded media bytes.
	ArtifactName = "video.mp4"
	// PointerName holds the dirRef of a media directory.
	PointerName = "target.txt"

	// ArtifactContentType is the content type every artifact is stored with.
	ArtifactContentType = "video/mp4"
	// TextContentType is used for markers and pointers.
	TextContentType = "text/plain; charset=utf-8"
)

// DeriveKey returns the content key for a locator: the lowercase hex md5 of
// the locator with surrounding whitespace removed. Trimming is the only
// normalization applied.
func DeriveKey(locator string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(locator)))
	return hex.EncodeToString(sum[:])
}

// MediaDirectory is the pair of entries addressed by a media locator's key.
type MediaDirectory struct {
	Key         string
	MarkerKey   string
	ArtifactKey string
	// DirRef is the directory path without a trailing slash. It is the
	// content written into source pointers.
	DirRef string
}

// MediaDirectoryFor returns the media directory addressed by mediaLocator.
func MediaDirectoryFor(mediaLocator string) MediaDirectory {
	key := DeriveKey(mediaLocator)
	return mediaDirectory(key, MediaPrefix+key)
}

// MediaDirectoryAt returns the media directory named by a pointer's content.
// The dirRef is trimmed of whitespace and trailing slashes; it is not
// required to live under MediaPrefix.
func MediaDirectoryAt(dirRef string) MediaDirectory {
	ref := strings.TrimRight(strings.TrimSpace(dirRef), "/")
	key := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		key = ref[i+1:]
	}
	return mediaDirectory(key, ref)
}

func mediaDirectory(key, ref string) MediaDirectory {
	return MediaDirectory{
		Key:         key,
		MarkerKey:   ref + "/" + MarkerName,
		ArtifactKey: ref + "/" + ArtifactName,
		DirRef:      ref,
	}
}

// SourcePointerKeyFor returns the key of the pointer entry for sourceLocator.
func SourcePointerKeyFor(sourceLocator string) string {
	return SourcePrefix + DeriveKey(sourceLocator) + "/" + PointerName
}

// Exister is the subset of a blob store needed to judge completeness.
type Exister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// IsComplete reports whether both members of dir exist. A directory with
// only one member present is reported as incomplete, never as an error.
func IsComplete(ctx context.Context, store Exister, dir MediaDirectory) (bool, error) {
	ok, err := store.Exists(ctx, dir.MarkerKey)
	if err != nil {
		return false, fmt.Errorf("failed to check marker %s: %w", dir.MarkerKey, err)
	}
	if !ok {
		return false, nil
	}
	ok, err = store.Exists(ctx, dir.ArtifactKey)
	if err != nil {
		return false, fmt.Errorf("failed to check artifact %s: %w", dir.ArtifactKey, err)
	}
	return ok, nil
}
