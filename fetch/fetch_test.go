package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mediacache-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake-mp4-bytes"))
	}))
	defer srv.Close()

	f := NewHTTP(WithUserAgent("mediacache-test"))
	media, err := f.Fetch(context.Background(), "  "+srv.URL+"/a.mp4 ")
	require.NoError(t, err)

	assert.Equal(t, []byte("fake-mp4-bytes"), media.Body)
	assert.Equal(t, int64(len("fake-mp4-bytes")), media.ContentLength)
	assert.Equal(t, "video/mp4", media.ContentType)
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		maxBytes   int64
		wantStatus int
		wantErr    error
	}{
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantStatus: http.StatusNotFound,
			wantErr:    ErrBadStatus,
		},
		{
			name:       "server error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantStatus: http.StatusInternalServerError,
			wantErr:    ErrBadStatus,
		},
		{
			name:       "empty body",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			wantStatus: http.StatusOK,
			wantErr:    ErrEmptyBody,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(strings.Repeat("x", 100)))
			},
			maxBytes:   10,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			opts := []Option{}
			if tt.maxBytes > 0 {
				opts = append(opts, WithMaxBytes(tt.maxBytes))
			}
			_, err := NewHTTP(opts...).Fetch(context.Background(), srv.URL)
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te), "expected TransportError, got %T", err)
			assert.Equal(t, tt.wantStatus, te.StatusCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.maxBytes > 0 {
				var tooLarge ResponseTooLargeError
				assert.True(t, errors.As(err, &tooLarge))
			}
		})
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(WithTimeout(time.Second)).Fetch(context.Background(), url)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := NewHTTP().Fetch(context.Background(), "://bad")
	var te *TransportError
	require.ErrorAs(t, err, &te)
}
