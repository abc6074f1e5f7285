package scrape

import (
	"context"
	"log/slog"

	"github.com/richardartoul/mediacache/layout"
	"github.com/richardartoul/mediacache/resolver"
)

// Cache is the part of the resolver the orchestrator drives.
type Cache interface {
	ExistsBySource(ctx context.Context, source layout.SourceLocator) (resolver.Existence, error)
	Resolve(ctx context.Context, media layout.MediaLocator, source layout.SourceLocator) (resolver.Resolution, error)
}

// State is a step of a share-link resolution.
type State int

const (
	DetectLocator State = iota
	CheckExisting
	Scrape
	Resolve
	Done
)

func (s State) String() string {
	switch s {
	case DetectLocator:
		return "DETECT_LOCATOR"
	case CheckExisting:
		return "CHECK_EXISTING"
	case Scrape:
		return "SCRAPE"
	case Resolve:
		return "RESOLVE"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Outcome describes a completed share-link resolution.
type Outcome struct {
	Share layout.SourceLocator
	// Media is empty when the share link was already cached.
	Media layout.MediaLocator
	Dir   layout.MediaDirectory
	// Cached reports whether no fetch occurred.
	Cached bool
	// Scraped reports whether the browser was used.
	Scraped bool
}

// Path returns the store-relative path of the artifact.
func (o Outcome) Path() string {
	return o.Dir.ArtifactKey
}

// Orchestrator resolves share links: it detects the link, answers from the
// cache when the link is already known, and only otherwise pays for a browser
// render before delegating to the resolver.
type Orchestrator struct {
	detector *Detector
	scraper  Scraper
	prefixes []string
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Empty prefixes use DefaultMediaPrefixes.
func NewOrchestrator(detector *Detector, scraper Scraper, prefixes []string, logger *slog.Logger) *Orchestrator {
	if len(prefixes) == 0 {
		prefixes = DefaultMediaPrefixes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		detector: detector,
		scraper:  scraper,
		prefixes: prefixes,
		logger:   logger,
	}
}

// Resolve runs input through DETECT_LOCATOR, CHECK_EXISTING and, on a miss,
// SCRAPE and RESOLVE. Errors from each state are returned unchanged.
func (o *Orchestrator) Resolve(ctx context.Context, cache Cache, input string) (Outcome, error) {
	var out Outcome
	state := DetectLocator

	for state != Done {
		o.logger.Debug("share link state", "state", state, "share", out.Share.String())

		switch state {
		case DetectLocator:
			share, err := o.detector.Detect(input)
			if err != nil {
				return Outcome{}, err
			}
			out.Share = share
			state = CheckExisting

		case CheckExisting:
			ex, err := cache.ExistsBySource(ctx, out.Share)
			if err != nil {
				return Outcome{}, err
			}
			if ex.Exists {
				out.Dir = ex.Dir
				out.Cached = true
				state = Done
				continue
			}
			state = Scrape

		case Scrape:
			candidates, err := o.scraper.Scrape(ctx, out.Share.String())
			out.Scraped = true
			if err != nil {
				return Outcome{}, err
			}
			media, ok := pickMedia(candidates, o.prefixes)
			if !ok {
				o.logger.Warn("no acceptable media on share page",
					"share", out.Share.String(), "candidates", len(candidates))
				return Outcome{}, ErrNoMediaFound
			}
			out.Media = media
			state = Resolve

		case Resolve:
			res, err := cache.Resolve(ctx, out.Media, out.Share)
			if err != nil {
				return Outcome{}, err
			}
			out.Dir = res.Dir
			out.Cached = res.Cached()
			state = Done
		}
	}

	return out, nil
}
