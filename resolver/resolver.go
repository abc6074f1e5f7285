// Package resolver decides whether a media locator is already cached, fetches
// and stores it when it is not, and keeps source pointers aimed at the stored
// media directory.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richardartoul/mediacache/backends"
	"github.com/richardartoul/mediacache/dedupe"
	"github.com/richardartoul/mediacache/fetch"
	"github.com/richardartoul/mediacache/layout"
)

// Status is the outcome of a successful Resolve.
type Status int

const (
	// Hit means the media directory for the media locator was already complete.
	Hit Status = iota
	// HitViaSource means the media directory was incomplete but the source
	// pointer led to a complete one.
	HitViaSource
	// Stored means the media was fetched and written.
	Stored
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "HIT"
	case HitViaSource:
		return "HIT_VIA_SOURCE"
	case Stored:
		return "STORED"
	default:
		return "UNKNOWN"
	}
}

// Resolution describes where resolved media lives.
type Resolution struct {
	Status Status
	Dir    layout.MediaDirectory
	// Size is the number of bytes written; zero unless Status is Stored.
	Size int64
}

// Cached reports whether the resolution was served without a fetch.
func (r Resolution) Cached() bool {
	return r.Status != Stored
}

// Path returns the store-relative path of the artifact.
func (r Resolution) Path() string {
	return r.Dir.ArtifactKey
}

// Resolver implements the cache lookup and population protocol against a
// single bucket. It holds no cache state of its own; every decision is made
// from key existence in the backend.
type Resolver struct {
	backend backends.Backend
	fetcher fetch.Fetcher
	locker  dedupe.Locker
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocker runs each Resolve under locker, keyed by the media and source
// content keys. Without it, concurrent resolutions of the same locator may
// both fetch and overwrite the same keys, which is safe but wasteful.
func WithLocker(locker dedupe.Locker) Option {
	return func(r *Resolver) {
		r.locker = locker
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver over backend. fetcher may be nil for resolvers that
// only answer existence queries.
func New(backend backends.Backend, fetcher fetch.Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		backend: backend,
		fetcher: fetcher,
		locker:  dedupe.NewNoOpGroup(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.locker == nil {
		r.locker = dedupe.NewNoOpGroup()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the media directory holding media, fetching and storing it
// if no complete directory can be found. source is optional; when given, its
// pointer is created or refreshed to reference the resolved directory.
//
// Lookups are ordered cheapest proof first: the direct media directory, then
// the directory named by the source pointer, and only then a fetch.
func (r *Resolver) Resolve(ctx context.Context, media layout.MediaLocator, source layout.SourceLocator) (Resolution, error) {
	if layout.IsBlank(media) {
		return Resolution{}, ErrBlankMediaLocator
	}

	dir := layout.MediaDirectoryFor(media.String())
	lockKey := dir.Key
	if !layout.IsBlank(source) {
		lockKey += ":" + layout.DeriveKey(source.String())
	}

	v, err := r.locker.DoWithLock(ctx, lockKey, func() (interface{}, error) {
		return r.resolve(ctx, media, source, dir)
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

func (r *Resolver) resolve(ctx context.Context, media layout.MediaLocator, source layout.SourceLocator, dir layout.MediaDirectory) (Resolution, error) {
	hasSource := !layout.IsBlank(source)
	var pointerKey string
	if hasSource {
		pointerKey = layout.SourcePointerKeyFor(source.String())
	}

	complete, err := layout.IsComplete(ctx, r.backend, dir)
	if err != nil {
		return Resolution{}, &StoreError{Op: "exists", Key: dir.DirRef, Err: err}
	}
	if complete {
		if hasSource {
			if err := r.healPointer(ctx, pointerKey, dir); err != nil {
				return Resolution{}, err
			}
		}
		r.logger.Debug("cache hit", "media", media.String(), "dir", dir.DirRef)
		return Resolution{Status: Hit, Dir: dir}, nil
	}

	if hasSource {
		target, state, err := r.followPointer(ctx, pointerKey)
		if err != nil {
			return Resolution{}, err
		}
		// A pointer back at the directory just found incomplete cannot prove anything.
		if state == Found && target.DirRef != dir.DirRef {
			complete, err := layout.IsComplete(ctx, r.backend, target)
			if err != nil {
				return Resolution{}, &StoreError{Op: "exists", Key: target.DirRef, Err: err}
			}
			if complete {
				r.logger.Debug("cache hit via source pointer",
					"media", media.String(), "source", source.String(), "dir", target.DirRef)
				return Resolution{Status: HitViaSource, Dir: target}, nil
			}
		}
	}

	return r.populate(ctx, media, pointerKey, dir)
}

// populate fetches media and writes the artifact, the marker and, when
// pointerKey is set, the source pointer, in that order. Nothing is written if
// the fetch fails.
func (r *Resolver) populate(ctx context.Context, media layout.MediaLocator, pointerKey string, dir layout.MediaDirectory) (Resolution, error) {
	if r.fetcher == nil {
		return Resolution{}, errors.New("resolver has no fetcher")
	}

	r.logger.Info("cache miss, downloading", "media", media.String(), "dir", dir.DirRef)
	m, err := r.fetcher.Fetch(ctx, media.String())
	if err != nil {
		var te *fetch.TransportError
		if !errors.As(err, &te) {
			err = &fetch.TransportError{URL: media.String(), Err: err}
		}
		return Resolution{}, err
	}
	if m.ContentLength > 0 && int64(len(m.Body)) != m.ContentLength {
		return Resolution{}, &fetch.TransportError{
			URL: media.String(),
			Err: fmt.Errorf("%w: got %d of %d bytes", fetch.ErrTruncatedBody, len(m.Body), m.ContentLength),
		}
	}

	if err := r.backend.PutBytes(ctx, dir.ArtifactKey, m.Body, layout.ArtifactContentType); err != nil {
		return Resolution{}, &StoreError{Op: "put", Key: dir.ArtifactKey, Err: err}
	}
	if err := r.backend.PutBytes(ctx, dir.MarkerKey, []byte(media.String()), layout.TextContentType); err != nil {
		return Resolution{}, &StoreError{Op: "put", Key: dir.MarkerKey, Err: err}
	}
	if pointerKey != "" {
		if err := r.writePointer(ctx, pointerKey, dir); err != nil {
			return Resolution{}, err
		}
	}

	r.logger.Info("stored media", "media", media.String(), "path", dir.ArtifactKey, "size", len(m.Body), "content_type", m.ContentType)
	return Resolution{Status: Stored, Dir: dir, Size: int64(len(m.Body))}, nil
}

// healPointer writes the source pointer if it is missing.
func (r *Resolver) healPointer(ctx context.Context, pointerKey string, dir layout.MediaDirectory) error {
	exists, err := r.backend.Exists(ctx, pointerKey)
	if err != nil {
		return &StoreError{Op: "exists", Key: pointerKey, Err: err}
	}
	if exists {
		return nil
	}
	r.logger.Info("restoring missing source pointer", "pointer", pointerKey, "dir", dir.DirRef)
	return r.writePointer(ctx, pointerKey, dir)
}

func (r *Resolver) writePointer(ctx context.Context, pointerKey string, dir layout.MediaDirectory) error {
	if err := r.backend.PutBytes(ctx, pointerKey, []byte(dir.DirRef), layout.TextContentType); err != nil {
		return &StoreError{Op: "put", Key: pointerKey, Err: err}
	}
	return nil
}

// followPointer reads the pointer at pointerKey. The returned Reason is
// NoPointer or InvalidPointer when there is nothing to follow, and Found when
// target holds the named directory; completeness is left to the caller.
func (r *Resolver) followPointer(ctx context.Context, pointerKey string) (layout.MediaDirectory, Reason, error) {
	exists, err := r.backend.Exists(ctx, pointerKey)
	if err != nil {
		return layout.MediaDirectory{}, NoPointer, &StoreError{Op: "exists", Key: pointerKey, Err: err}
	}
	if !exists {
		return layout.MediaDirectory{}, NoPointer, nil
	}
	text, ok := r.backend.GetText(ctx, pointerKey)
	if !ok {
		return layout.MediaDirectory{}, InvalidPointer, nil
	}
	target := layout.MediaDirectoryAt(text)
	if target.DirRef == "" {
		return layout.MediaDirectory{}, InvalidPointer, nil
	}
	return target, Found, nil
}
