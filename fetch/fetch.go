// Package fetch downloads raw media bytes from an origin URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Minute
	defaultMaxBytes = 2 << 30 // 2 GiB
)

// Media is the result of a successful fetch.
type Media struct {
	Body []byte
	// ContentLength is the length reported by the origin, or -1 if unknown.
	ContentLength int64
	ContentType   string
}

// Fetcher retrieves the bytes behind a media locator.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Media, error)
}

// TransportError reports a failed transfer: a network failure, a non-2xx
// status, an empty body, or a body over the size limit.
type TransportError struct {
	URL        string
	StatusCode int // zero if no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var (
	// ErrEmptyBody is returned when the origin responds with no content.
	ErrEmptyBody = errors.New("empty response body")
	// ErrBadStatus is returned for non-2xx responses.
	ErrBadStatus = errors.New("unexpected status")
	// ErrTruncatedBody is returned when the body is shorter or longer than
	// the Content-Length the origin reported.
	ErrTruncatedBody = errors.New("body length does not match content length")
)

// ResponseTooLargeError reports that the response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// HTTP fetches media over HTTP(S).
type HTTP struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// Option configures an HTTP fetcher.
type Option func(*HTTP)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(h *HTTP) {
		h.client = client
	}
}

// WithTimeout sets the overall timeout for a single download.
func WithTimeout(timeout time.Duration) Option {
	return func(h *HTTP) {
		if timeout > 0 {
			h.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithMaxBytes bounds the size of a downloaded body. Zero or less disables the limit.
func WithMaxBytes(n int64) Option {
	return func(h *HTTP) {
		h.maxBytes = n
	}
}

// WithUserAgent sets the User-Agent header on each request.
func WithUserAgent(ua string) Option {
	return func(h *HTTP) {
		h.userAgent = ua
	}
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{
		client:   &http.Client{Timeout: defaultTimeout},
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	return h
}

// Fetch downloads url in full. Any failure is returned as a *TransportError.
func (h *HTTP) Fetch(ctx context.Context, url string) (*Media, error) {
	url = strings.TrimSpace(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}

	body, err := readAllWithLimit(resp.Body, h.maxBytes)
	if err != nil {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if len(body) == 0 {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: ErrEmptyBody}
	}

	return &Media{
		Body:          body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// readAllWithLimit reads r up to limit bytes. If limit <= 0 it behaves like io.ReadAll.
func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
