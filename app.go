package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/richardartoul/mediacache/backends"
	"github.com/richardartoul/mediacache/dedupe"
	"github.com/richardartoul/mediacache/fetch"
	"github.com/richardartoul/mediacache/layout"
	"github.com/richardartoul/mediacache/resolver"
	"github.com/richardartoul/mediacache/scrape"
)

// StoreResult is the outcome of StoreMedia.
type StoreResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Cached    bool   `json:"cached"`
	Bucket    string `json:"bucket,omitempty"`
	ObjectKey string `json:"objectKey,omitempty"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// ExistsResult is the outcome of ExistsBySource.
type ExistsResult struct {
	Success bool   `json:"success"`
	Exists  bool   `json:"exists"`
	Message string `json:"message"`
	Bucket  string `json:"bucket,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ShareResult is the outcome of ResolveShareLink.
type ShareResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Cached    bool   `json:"cached"`
	PublicURL string `json:"publicUrl,omitempty"`
	Path      string `json:"path,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
}

const (
	msgHit          = "cache hit"
	msgHitViaSource = "cache hit via source pointer"
	msgUploaded     = "uploaded"
)

// BackendFactory opens a Backend for one bucket. The caller closes it.
type BackendFactory func(ctx context.Context, bucket string) (backends.Backend, error)

// App exposes the cache operations to the outer tool layer. Each operation
// opens its own backend for the requested bucket and closes it before
// returning; failures are reported in the result, never as a Go error.
type App struct {
	cfg         Config
	logger      *slog.Logger
	locker      dedupe.Locker
	fetcher     fetch.Fetcher
	scraper     scrape.Scraper
	detector    *scrape.Detector
	openBackend BackendFactory
	stats       *Stats
}

// AppOption configures an App.
type AppOption func(*App)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f fetch.Fetcher) AppOption {
	return func(a *App) { a.fetcher = f }
}

// WithScraper replaces the browser scraper.
func WithScraper(s scrape.Scraper) AppOption {
	return func(a *App) { a.scraper = s }
}

// WithBackendFactory replaces the backend factory derived from the config.
func WithBackendFactory(f BackendFactory) AppOption {
	return func(a *App) { a.openBackend = f }
}

// WithLocker sets the dedupe group shared by all operations.
func WithLocker(l dedupe.Locker) AppOption {
	return func(a *App) { a.locker = l }
}

// WithStats records operation outcomes into s.
func WithStats(s *Stats) AppOption {
	return func(a *App) { a.stats = s }
}

// NewApp creates an App from cfg.
func NewApp(cfg Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	detector, err := scrape.NewDetector(cfg.SharePattern)
	if err != nil {
		return nil, &ConfigError{Backend: cfg.Backend, Reason: err.Error()}
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		detector: detector,
		locker:   dedupe.NewMemLock(),
		fetcher: fetch.NewHTTP(
			fetch.WithTimeout(cfg.FetchTimeout),
			fetch.WithMaxBytes(cfg.FetchMaxBytes),
		),
		scraper: scrape.NewChromeScraper(scrape.ChromeConfig{
			ChromePath: cfg.ChromePath,
			CDPURL:     cfg.CDPURL,
			Headless:   cfg.Headless,
			Timeout:    cfg.ScrapeTimeout,
		}, logger),
	}
	a.openBackend = func(ctx context.Context, bucket string) (backends.Backend, error) {
		return createBackend(ctx, a.cfg, bucket, a.logger)
	}

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// withResolver validates the configuration for bucket, opens a backend and
// runs fn with a resolver over it. The backend is closed on every path.
func (a *App) withResolver(ctx context.Context, bucket string, fetcher fetch.Fetcher, fn func(r *resolver.Resolver) error) error {
	if err := a.cfg.Validate(bucket); err != nil {
		return err
	}

	backend, err := a.openBackend(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", a.cfg.Backend, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			a.logger.Warn("failed to close backend", "bucket", bucket, "error", err)
		}
	}()

	r := resolver.New(backend, fetcher,
		resolver.WithLocker(dedupe.WithPrefix(a.locker, bucket+"/")),
		resolver.WithLogger(a.logger.With("bucket", bucket)),
	)
	return fn(r)
}

// StoreMedia ensures the media at mediaLocator is stored in bucket and, when
// sourceLocator is given, that its pointer leads there.
func (a *App) StoreMedia(ctx context.Context, mediaLocator, sourceLocator, bucket string) StoreResult {
	media := layout.MediaLocator(mediaLocator)
	if layout.IsBlank(media) {
		return StoreResult{Message: describeError(resolver.ErrBlankMediaLocator)}
	}
	bucket = a.cfg.BucketFor(bucket)

	var res resolver.Resolution
	err := a.withResolver(ctx, bucket, a.fetcher, func(r *resolver.Resolver) error {
		var err error
		res, err = r.Resolve(ctx, media, layout.SourceLocator(sourceLocator))
		return err
	})
	if err != nil {
		a.logger.Error("store failed", "media", media.String(), "bucket", bucket, "error", err)
		a.stats.recordError()
		return StoreResult{Message: describeError(err)}
	}
	a.stats.recordResolution(res.Cached(), res.Size)

	return StoreResult{
		Success:   true,
		Message:   resolutionMessage(res.Status),
		Cached:    res.Cached(),
		Bucket:    bucket,
		ObjectKey: res.Path(),
		Path:      res.Path(),
		Size:      res.Size,
	}
}

// ExistsBySource reports whether sourceLocator already leads to stored media
// in bucket. It never fetches or writes.
func (a *App) ExistsBySource(ctx context.Context, sourceLocator, bucket string) ExistsResult {
	source := layout.SourceLocator(sourceLocator)
	if layout.IsBlank(source) {
		return ExistsResult{Message: describeError(resolver.ErrBlankSourceLocator)}
	}
	bucket = a.cfg.BucketFor(bucket)

	var ex resolver.Existence
	err := a.withResolver(ctx, bucket, nil, func(r *resolver.Resolver) error {
		var err error
		ex, err = r.ExistsBySource(ctx, source)
		return err
	})
	if err != nil {
		a.logger.Error("existence query failed", "source", source.String(), "bucket", bucket, "error", err)
		a.stats.recordError()
		return ExistsResult{Message: describeError(err)}
	}

	result := ExistsResult{
		Success: true,
		Exists:  ex.Exists,
		Message: ex.Reason.String(),
		Bucket:  bucket,
	}
	if ex.Exists {
		result.Path = ex.Dir.ArtifactKey
	}
	return result
}

// ResolveShareLink finds the share link in input and returns a public URL for
// its media, scraping and storing it only when no stored copy is known.
func (a *App) ResolveShareLink(ctx context.Context, input, bucket string) ShareResult {
	bucket = a.cfg.BucketFor(bucket)

	// Input without a share link must not touch the store.
	share, err := a.detector.Detect(input)
	if err != nil {
		a.stats.recordError()
		return ShareResult{Message: describeError(err)}
	}

	orch := scrape.NewOrchestrator(a.detector, a.scraper, a.cfg.MediaPrefixes, a.logger)
	var out scrape.Outcome
	err = a.withResolver(ctx, bucket, a.fetcher, func(r *resolver.Resolver) error {
		var err error
		out, err = orch.Resolve(ctx, r, share.String())
		return err
	})
	if err != nil {
		a.logger.Error("share link resolution failed", "bucket", bucket, "error", err)
		a.stats.recordError()
		return ShareResult{Message: describeError(err)}
	}
	a.stats.recordResolution(out.Cached, 0)

	msg := msgUploaded
	if out.Cached {
		msg = msgHit
	}
	return ShareResult{
		Success:   true,
		Message:   msg,
		Cached:    out.Cached,
		PublicURL: a.cfg.PublicURL(bucket, out.Path()),
		Path:      out.Path(),
		Bucket:    bucket,
	}
}

func resolutionMessage(s resolver.Status) string {
	switch s {
	case resolver.Hit:
		return msgHit
	case resolver.HitViaSource:
		return msgHitViaSource
	default:
		return msgUploaded
	}
}

// describeError turns err into the message reported to the caller.
func describeError(err error) string {
	var (
		cfgErr       *ConfigError
		transportErr *fetch.TransportError
		storeErr     *resolver.StoreError
		scrapeErr    *scrape.ScrapeError
	)

	switch {
	case resolver.IsValidation(err), errors.Is(err, scrape.ErrNoShareLink):
		return "invalid input: " + err.Error()
	case errors.As(err, &cfgErr):
		return err.Error()
	case errors.As(err, &transportErr):
		return "download failed: " + transportErr.Error()
	case errors.As(err, &storeErr):
		return "store failed: " + storeErr.Error()
	case errors.As(err, &scrapeErr), errors.Is(err, scrape.ErrNoMediaFound):
		return "scrape failed: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted: " + err.Error()
	default:
		return "failed: " + strings.TrimSpace(err.Error())
	}
}
