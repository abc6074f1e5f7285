// Package scrape turns share links into direct media locators and hands them
// to the resolver.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/richardartoul/mediacache/layout"
)

// DefaultSharePattern matches short share links of the form https://v.douyin.com/<id>/.
const DefaultSharePattern = `https?://v\.douyin\.com/[A-Za-z0-9_\-]+/?`

// DefaultMediaPrefixes are the URL prefixes a scraped media locator must have.
var DefaultMediaPrefixes = []string{
	"https://www.douyin.com/aweme/v1/play/",
	"https://aweme.snssdk.com/aweme/v1/play/",
	"https://v3-web.douyinvod.com/",
	"https://v26-web.douyinvod.com/",
}

var (
	// ErrNoShareLink is returned when the input contains no recognizable share link.
	ErrNoShareLink = errors.New("no share link found in input")
	// ErrNoMediaFound is returned when a rendered page holds no acceptable media URL.
	ErrNoMediaFound = errors.New("no media found on share page")
)

// ScrapeError reports a browser automation failure.
type ScrapeError struct {
	ShareLink string
	Err       error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %v", e.ShareLink, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Scraper renders a share page and returns the candidate media URLs found on it.
type Scraper interface {
	Scrape(ctx context.Context, shareLink string) ([]string, error)
}

// Detector extracts share links from free-form text.
type Detector struct {
	pattern *regexp.Regexp
}

// NewDetector compiles pattern. An empty pattern uses DefaultSharePattern.
func NewDetector(pattern string) (*Detector, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultSharePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid share link pattern: %w", err)
	}
	return &Detector{pattern: re}, nil
}

// Detect returns the first share link in input.
func (d *Detector) Detect(input string) (layout.SourceLocator, error) {
	match := d.pattern.FindString(input)
	if match == "" {
		return "", ErrNoShareLink
	}
	return layout.SourceLocator(match), nil
}

// pickMedia returns the first candidate starting with one of prefixes.
func pickMedia(candidates, prefixes []string) (layout.MediaLocator, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(c, p) {
				return layout.MediaLocator(c), true
			}
		}
	}
	return "", false
}
