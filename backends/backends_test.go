package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir(), "videos")
	require.NoError(t, err)
	return d
}

func TestDiskPutExistsGet(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	ok, err := d.Exists(ctx, "media/abc/url.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok = d.GetText(ctx, "media/abc/url.txt")
	assert.False(t, ok)

	require.NoError(t, d.PutBytes(ctx, "media/abc/url.txt", []byte("http://host/a.mp4"), "text/plain; charset=utf-8"))

	ok, err = d.Exists(ctx, "media/abc/url.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	text, ok := d.GetText(ctx, "media/abc/url.txt")
	require.True(t, ok)
	assert.Equal(t, "http://host/a.mp4", text)
	assert.Equal(t, "text/plain; charset=utf-8", d.ContentType("media/abc/url.txt"))
}

func TestDiskOverwrite(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	require.NoError(t, d.PutBytes(ctx, "k", []byte("one"), ""))
	require.NoError(t, d.PutBytes(ctx, "k", []byte("two"), ""))

	text, ok := d.GetText(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "two", text)
}

func TestDiskDirectoryIsNotAnEntry(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)
	require.NoError(t, d.PutBytes(ctx, "media/abc/video.mp4", []byte{1, 2, 3}, "video/mp4"))

	ok, err := d.Exists(ctx, "media/abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskDelete(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)
	require.NoError(t, d.PutBytes(ctx, "source/x/target.txt", []byte("media/y"), ""))
	require.NoError(t, d.Delete("source/x/target.txt"))
	require.NoError(t, d.Delete("source/x/target.txt"))

	ok, err := d.Exists(ctx, "source/x/target.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	for _, key := range []string{"", "../outside", "/etc/passwd", ".."} {
		err := d.PutBytes(ctx, key, []byte("x"), "")
		assert.Error(t, err, "key %q", key)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(d.Root()), "outside"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewDiskValidation(t *testing.T) {
	_, err := NewDisk("", "b")
	assert.Error(t, err)
	_, err = NewDisk(t.TempDir(), "")
	assert.Error(t, err)
	_, err = NewDisk(t.TempDir(), "a/b")
	assert.Error(t, err)
}

func TestErrorBackendFailFunc(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)
	e := NewErrorFunc(d, func(op Op, key string) bool {
		return op == OpPut && strings.HasSuffix(key, "url.txt")
	})

	require.NoError(t, e.PutBytes(ctx, "media/a/video.mp4", []byte("v"), ""))
	err := e.PutBytes(ctx, "media/a/url.txt", []byte("u"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated put error")

	ok, err := e.Exists(ctx, "media/a/video.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, putErrors, _ := e.GetStats()
	assert.Equal(t, int64(1), putErrors)
}

func TestErrorBackendRate(t *testing.T) {
	ctx := context.Background()
	d := newTestDisk(t)

	always := NewError(d, 2.0)
	_, err := always.Exists(ctx, "k")
	assert.Error(t, err)
	_, ok := always.GetText(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, always.Close())

	never := NewError(d, -1)
	_, err = never.Exists(ctx, "k")
	assert.NoError(t, err)
}

func TestDebugBackendLogs(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := NewDebug(newTestDisk(t), logger)

	require.NoError(t, d.PutBytes(ctx, "media/a/url.txt", []byte("u"), "text/plain"))
	_, err := d.Exists(ctx, "media/a/url.txt")
	require.NoError(t, err)
	_, ok := d.GetText(ctx, "media/a/missing")
	assert.False(t, ok)
	require.NoError(t, d.Close())

	out := buf.String()
	assert.Contains(t, out, "key=media/a/url.txt")
	assert.Contains(t, out, "found=true")
	assert.Contains(t, out, "get text: MISS")
	assert.Contains(t, out, "closed")
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed not found", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"typed no such key", &types.NoSuchKey{}, true},
		{"api code", &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}, false},
		{"plain string", errors.New("StatusCode: 404, NotFound"), true},
		{"other", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFoundError(tt.err))
		})
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://oss-cn-hangzhou.aliyuncs.com", endpointURL("oss-cn-hangzhou.aliyuncs.com"))
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000/"))
}
