package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/mediacache/backends"
	"github.com/richardartoul/mediacache/layout"
	"github.com/richardartoul/mediacache/scrape"
)

const testEndpoint = "https://oss-cn-hangzhou.aliyuncs.com/"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Backend:       BackendDisk,
		Endpoint:      testEndpoint,
		Bucket:        "videos",
		DiskDir:       t.TempDir(),
		FetchTimeout:  time.Minute,
		FetchMaxBytes: 1 << 20,
		SharePattern:  scrape.DefaultSharePattern,
	}
}

// origin is a fake media host that counts downloads.
type origin struct {
	*httptest.Server
	downloads atomic.Int64
	status    atomic.Int64
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	o.status.Store(http.StatusOK)
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.downloads.Add(1)
		if code := int(o.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprintf(w, "mp4 bytes for %s", r.URL.Path)
	}))
	t.Cleanup(o.Close)
	return o
}

func newTestApp(t *testing.T, cfg Config, opts ...AppOption) *App {
	t.Helper()
	app, err := NewApp(cfg, quietLogger(), opts...)
	require.NoError(t, err)
	return app
}

func readStored(t *testing.T, cfg Config, bucket, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.DiskDir, bucket, key))
	require.NoError(t, err)
	return string(data)
}

func TestStoreMediaThenHit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	app := newTestApp(t, cfg)

	media := o.URL + "/v/1.mp4"
	first := app.StoreMedia(ctx, "  "+media+"\n", "", "")
	require.True(t, first.Success, first.Message)
	assert.False(t, first.Cached)
	assert.Equal(t, msgUploaded, first.Message)
	assert.Equal(t, "videos", first.Bucket)
	assert.Equal(t, layout.MediaDirectoryFor(media).ArtifactKey, first.Path)
	assert.Equal(t, first.Path, first.ObjectKey)
	assert.Equal(t, int64(len("mp4 bytes for /v/1.mp4")), first.Size)

	assert.Equal(t, media, readStored(t, cfg, "videos", layout.MediaDirectoryFor(media).MarkerKey))
	assert.Equal(t, "mp4 bytes for /v/1.mp4", readStored(t, cfg, "videos", first.Path))

	second := app.StoreMedia(ctx, media, "", "")
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, msgHit, second.Message)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, int64(1), o.downloads.Load())
}

func TestStoreMediaViaSourcePointer(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	app := newTestApp(t, cfg)

	source := "https://v.douyin.com/abc/"
	m1 := o.URL + "/v/1.mp4?token=a"
	m2 := o.URL + "/v/1.mp4?token=b"

	first := app.StoreMedia(ctx, m1, source, "")
	require.True(t, first.Success)
	assert.Equal(t, layout.MediaDirectoryFor(m1).DirRef,
		readStored(t, cfg, "videos", layout.SourcePointerKeyFor(source)))

	// A rotated media locator for the same source is served through the pointer.
	second := app.StoreMedia(ctx, m2, source, "")
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, msgHitViaSource, second.Message)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, int64(1), o.downloads.Load())
}

func TestStoreMediaBucketOverride(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	app := newTestApp(t, cfg)

	media := o.URL + "/v/1.mp4"
	a := app.StoreMedia(ctx, media, "", "")
	b := app.StoreMedia(ctx, media, "", " archive ")
	require.True(t, a.Success)
	require.True(t, b.Success)
	assert.Equal(t, "archive", b.Bucket)
	assert.False(t, b.Cached, "buckets do not share entries")
	assert.Equal(t, int64(2), o.downloads.Load())
}

func TestStoreMediaFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("blank media locator", func(t *testing.T) {
		res := newTestApp(t, testConfig(t)).StoreMedia(ctx, "   ", "", "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "invalid input")
		assert.Empty(t, res.Bucket)
	})

	t.Run("config incomplete", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Bucket = ""
		opened := false
		app := newTestApp(t, cfg, WithBackendFactory(func(context.Context, string) (backends.Backend, error) {
			opened = true
			return nil, errors.New("unreachable")
		}))
		res := app.StoreMedia(ctx, "https://cdn/x.mp4", "", "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "missing bucket")
		assert.False(t, opened, "validation must fail before the store is touched")
	})

	t.Run("download failure writes nothing", func(t *testing.T) {
		cfg := testConfig(t)
		o := newOrigin(t)
		o.status.Store(http.StatusForbidden)
		app := newTestApp(t, cfg)

		media := o.URL + "/v/denied.mp4"
		res := app.StoreMedia(ctx, media, "https://v.douyin.com/denied/", "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "download failed")
		assert.Contains(t, res.Message, "403")

		_, err := os.Stat(filepath.Join(cfg.DiskDir, "videos", "media"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(cfg.DiskDir, "videos", "source"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("store failure between writes", func(t *testing.T) {
		cfg := testConfig(t)
		o := newOrigin(t)
		media := o.URL + "/v/partial.mp4"
		marker := layout.MediaDirectoryFor(media).MarkerKey

		failMarker := true
		app := newTestApp(t, cfg, WithBackendFactory(func(ctx context.Context, bucket string) (backends.Backend, error) {
			disk, err := backends.NewDisk(cfg.DiskDir, bucket)
			if err != nil {
				return nil, err
			}
			return backends.NewErrorFunc(disk, func(op backends.Op, key string) bool {
				return failMarker && op == backends.OpPut && key == marker
			}), nil
		}))

		res := app.StoreMedia(ctx, media, "", "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "store failed")

		failMarker = false
		retry := app.StoreMedia(ctx, media, "", "")
		require.True(t, retry.Success)
		assert.False(t, retry.Cached, "an incomplete directory is treated as absent")
		assert.Equal(t, int64(2), o.downloads.Load())
	})
}

func TestExistsBySource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	app := newTestApp(t, cfg)
	source := "https://v.douyin.com/exists/"

	res := app.ExistsBySource(ctx, source, "")
	assert.True(t, res.Success)
	assert.False(t, res.Exists)
	assert.Equal(t, "no video stored for this source locator", res.Message)
	assert.Equal(t, "videos", res.Bucket)
	assert.Empty(t, res.Path)

	stored := app.StoreMedia(ctx, o.URL+"/v/e.mp4", source, "")
	require.True(t, stored.Success)

	res = app.ExistsBySource(ctx, " "+source+" ", "")
	assert.True(t, res.Success)
	assert.True(t, res.Exists)
	assert.Equal(t, "video exists", res.Message)
	assert.Equal(t, stored.Path, res.Path)

	blank := app.ExistsBySource(ctx, "", "")
	assert.False(t, blank.Success)
	assert.False(t, blank.Exists)
	assert.Contains(t, blank.Message, "invalid input")

	assert.Equal(t, int64(1), o.downloads.Load(), "existence queries never fetch")
}

type stubScraper struct {
	calls atomic.Int64
	urls  []string
	err   error
}

func (s *stubScraper) Scrape(_ context.Context, _ string) ([]string, error) {
	s.calls.Add(1)
	return s.urls, s.err
}

func TestResolveShareLink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	cfg.MediaPrefixes = []string{o.URL + "/aweme/v1/play/"}

	play := o.URL + "/aweme/v1/play/?video_id=v1"
	s := &stubScraper{urls: []string{"https://elsewhere.example/x.mp4", play}}
	app := newTestApp(t, cfg, WithScraper(s))

	input := "3.41 复制打开抖音 https://v.douyin.com/iRNBho6u/ 看看"
	first := app.ResolveShareLink(ctx, input, "")
	require.True(t, first.Success, first.Message)
	assert.False(t, first.Cached)
	assert.Equal(t, msgUploaded, first.Message)
	assert.Equal(t, layout.MediaDirectoryFor(play).ArtifactKey, first.Path)
	assert.Equal(t, "https://videos.oss-cn-hangzhou.aliyuncs.com/"+first.Path, first.PublicURL)

	second := app.ResolveShareLink(ctx, "https://v.douyin.com/iRNBho6u/", "")
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, first.PublicURL, second.PublicURL)
	assert.Equal(t, int64(1), s.calls.Load(), "a known share link is not scraped again")
	assert.Equal(t, int64(1), o.downloads.Load())
}

func TestResolveShareLinkFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		scraper *stubScraper
		want    string
	}{
		{
			name:    "no share link",
			input:   "hello",
			scraper: &stubScraper{},
			want:    "invalid input",
		},
		{
			name:    "no acceptable media",
			input:   "https://v.douyin.com/a/",
			scraper: &stubScraper{urls: []string{"https://elsewhere.example/x.mp4"}},
			want:    "scrape failed",
		},
		{
			name:    "browser failure",
			input:   "https://v.douyin.com/a/",
			scraper: &stubScraper{err: &scrape.ScrapeError{ShareLink: "https://v.douyin.com/a/", Err: errors.New("timeout")}},
			want:    "scrape failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, testConfig(t), WithScraper(tt.scraper))
			res := app.ResolveShareLink(ctx, tt.input, "")
			assert.False(t, res.Success)
			assert.True(t, strings.HasPrefix(res.Message, tt.want), res.Message)
			assert.Empty(t, res.PublicURL)
		})
	}
}

func TestResolveShareLinkWithoutLinkOpensNoBackend(t *testing.T) {
	cfg := testConfig(t)
	var opened atomic.Int64
	app := newTestApp(t, cfg, WithScraper(&stubScraper{}), WithBackendFactory(func(ctx context.Context, bucket string) (backends.Backend, error) {
		opened.Add(1)
		return backends.NewDisk(cfg.DiskDir, bucket)
	}))

	res := app.ResolveShareLink(context.Background(), "just some text, no link", "")
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Message, "invalid input"), res.Message)
	assert.Zero(t, opened.Load())
	_, err := os.Stat(filepath.Join(cfg.DiskDir, "videos"))
	assert.True(t, os.IsNotExist(err), "bucket root must not be created")
}

func TestStoreMediaConcurrentCallersShareOneDownload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	stats := NewStats()
	app := newTestApp(t, cfg, WithStats(stats))
	media := o.URL + "/v/same.mp4"

	var wg sync.WaitGroup
	results := make([]StoreResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = app.StoreMedia(ctx, media, "", "")
		}(i)
	}
	wg.Wait()

	uploads := 0
	for _, res := range results {
		require.True(t, res.Success, res.Message)
		if !res.Cached {
			uploads++
		}
	}
	assert.Equal(t, 1, uploads)
	assert.Equal(t, int64(1), o.downloads.Load())
	assert.Equal(t, int64(1), stats.misses.Load())
	assert.Equal(t, int64(1), stats.hits.Load())
	assert.Equal(t, int64(len("mp4 bytes for /v/same.mp4")), stats.storedBytes.Load())
}

func TestStoreMediaCancelledCallerDoesNotFailOthers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	var downloads atomic.Int64
	firstArrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if downloads.Add(1) == 1 {
			close(firstArrived)
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprint(w, "mp4 bytes")
	}))
	t.Cleanup(srv.Close)
	app := newTestApp(t, cfg)
	media := srv.URL + "/v/slow.mp4"

	firstCtx, cancelFirst := context.WithCancel(ctx)
	first := make(chan StoreResult, 1)
	go func() { first <- app.StoreMedia(firstCtx, media, "", "") }()
	<-firstArrived

	second := make(chan StoreResult, 1)
	go func() { second <- app.StoreMedia(ctx, media, "", "") }()

	cancelFirst()
	assert.False(t, (<-first).Success)

	res := <-second
	require.True(t, res.Success, res.Message)
	assert.False(t, res.Cached)
	assert.Equal(t, "mp4 bytes", readStored(t, cfg, "videos", res.Path))
}

func TestBackendClosedOnEveryPath(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	o := newOrigin(t)
	o.status.Store(http.StatusInternalServerError)

	var opened, closed atomic.Int64
	app := newTestApp(t, cfg, WithBackendFactory(func(ctx context.Context, bucket string) (backends.Backend, error) {
		disk, err := backends.NewDisk(cfg.DiskDir, bucket)
		if err != nil {
			return nil, err
		}
		opened.Add(1)
		return backends.NewErrorFunc(disk, func(op backends.Op, _ string) bool {
			if op == backends.OpClose {
				closed.Add(1)
			}
			return false
		}), nil
	}))

	app.StoreMedia(ctx, o.URL+"/v/fail.mp4", "", "")
	app.ExistsBySource(ctx, "https://v.douyin.com/x/", "")

	assert.Equal(t, int64(2), opened.Load())
	assert.Equal(t, opened.Load(), closed.Load())
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "failed: boom", describeError(errors.New("boom ")))
	assert.True(t, strings.HasPrefix(describeError(context.DeadlineExceeded), "aborted"))
	assert.True(t, strings.HasPrefix(describeError(fmt.Errorf("wrapped: %w", scrape.ErrNoMediaFound)), "scrape failed"))
}
