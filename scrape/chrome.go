package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultScrapeTimeout = 60 * time.Second
	// Share pages only embed the player for mobile clients.
	defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

// ChromeConfig configures a ChromeScraper.
type ChromeConfig struct {
	ChromePath string        // Optional path to the browser binary
	CDPURL     string        // Optional remote DevTools endpoint; overrides ChromePath
	Headless   bool
	Timeout    time.Duration // Bound on one page render
	UserAgent  string
}

// ChromeScraper renders share pages in a headless browser.
// Each Scrape starts its own browser and tears it down before returning.
type ChromeScraper struct {
	cfg    ChromeConfig
	logger *slog.Logger
}

// NewChromeScraper creates a ChromeScraper.
func NewChromeScraper(cfg ChromeConfig, logger *slog.Logger) *ChromeScraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScrapeTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeScraper{cfg: cfg, logger: logger}
}

// Scrape loads shareLink, waits for a video element and returns the media
// URLs found in the rendered document.
func (c *ChromeScraper) Scrape(ctx context.Context, shareLink string) ([]string, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if strings.TrimSpace(c.cfg.CDPURL) != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, c.cfg.CDPURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.cfg.Headless),
			chromedp.Flag("disable-gpu", c.cfg.Headless),
			chromedp.UserAgent(c.cfg.UserAgent),
		)
		if path := strings.TrimSpace(c.cfg.ChromePath); path != "" {
			opts = append(opts, chromedp.ExecPath(path))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	runCtx, runCancel := context.WithTimeout(browserCtx, c.cfg.Timeout)
	defer runCancel()

	start := time.Now()
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(shareLink),
		chromedp.WaitReady("video", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &ScrapeError{ShareLink: shareLink, Err: err}
	}
	c.logger.Debug("rendered share page", "share", shareLink, "bytes", len(html), "duration", time.Since(start))

	urls, err := ExtractMediaURLs(html)
	if err != nil {
		return nil, &ScrapeError{ShareLink: shareLink, Err: fmt.Errorf("failed to parse page: %w", err)}
	}
	return urls, nil
}
