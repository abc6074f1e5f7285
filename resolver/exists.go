package resolver

import (
	"context"

	"github.com/richardartoul/mediacache/layout"
)

// Reason explains the outcome of an existence query.
type Reason int

const (
	// NoPointer means no source pointer exists for the locator.
	NoPointer Reason = iota
	// InvalidPointer means the pointer exists but is unreadable or blank.
	InvalidPointer
	// IncompleteTarget means the pointer names a media directory that is not complete.
	IncompleteTarget
	// Found means the pointer names a complete media directory.
	Found
)

func (r Reason) String() string {
	switch r {
	case NoPointer:
		return "no video stored for this source locator"
	case InvalidPointer:
		return "source pointer content invalid"
	case IncompleteTarget:
		return "pointed media directory incomplete"
	case Found:
		return "video exists"
	default:
		return "unknown"
	}
}

// Existence is the result of ExistsBySource.
type Existence struct {
	Exists bool
	Reason Reason
	// Dir is set only when Exists is true.
	Dir layout.MediaDirectory
}

// ExistsBySource reports whether source points at a complete media
// directory. It never writes and never fetches. A missing or dangling
// pointer is a negative answer, not an error.
func (r *Resolver) ExistsBySource(ctx context.Context, source layout.SourceLocator) (Existence, error) {
	if layout.IsBlank(source) {
		return Existence{}, ErrBlankSourceLocator
	}

	target, state, err := r.followPointer(ctx, layout.SourcePointerKeyFor(source.String()))
	if err != nil {
		return Existence{}, err
	}
	if state != Found {
		return Existence{Reason: state}, nil
	}

	complete, err := layout.IsComplete(ctx, r.backend, target)
	if err != nil {
		return Existence{}, &StoreError{Op: "exists", Key: target.DirRef, Err: err}
	}
	if !complete {
		return Existence{Reason: IncompleteTarget}, nil
	}
	return Existence{Exists: true, Reason: Found, Dir: target}, nil
}
