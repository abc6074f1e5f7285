package backends

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig holds configuration for a GCS backend.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string // Optional custom endpoint (e.g. a fake-gcs-server)
}

// GCS implements Backend using Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCS creates a new GCS-backed backend.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpointURL(cfg.Endpoint)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
	}, nil
}

// Exists checks for an object via its attributes.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check GCS object %s: %w", key, err)
	}
	return true, nil
}

// GetText downloads a small text object.
func (g *GCS) GetText(ctx context.Context, key string) (string, bool) {
	reader, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return "", false
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(io.LimitReader(reader, maxTextSize))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PutBytes uploads data, replacing any existing object.
func (g *GCS) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s in GCS: %w", key, err)
	}
	return nil
}

// Close closes the GCS client.
func (g *GCS) Close() error {
	return g.client.Close()
}
