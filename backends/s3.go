package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// maxTextSize bounds GetText reads; markers and pointers are a few hundred bytes.
const maxTextSize = 64 * 1024

// S3Config holds configuration for an S3 backend.
type S3Config struct {
	Bucket          string
	Endpoint        string // S3-compatible endpoint, e.g. "oss-cn-hangzhou.aliyuncs.com"
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	UsePathStyle    bool // Required for MinIO/LocalStack; OSS requires virtual-hosted style
}

// S3 implements Backend using the AWS S3 API against any S3-compatible endpoint.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates a new S3-based backend.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Exists checks for an object with HeadObject.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check S3 object %s: %w", key, err)
	}
	return true, nil
}

// GetText downloads a small text object.
func (s *S3) GetText(ctx context.Context, key string) (string, bool) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", false
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxTextSize))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PutBytes uploads data, replacing any existing object.
func (s *S3) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		putInput.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

// Close performs cleanup operations.
func (s *S3) Close() error {
	// The SDK client holds no resources that need releasing
	return nil
}

// endpointURL adds an https scheme to bare host endpoints.
func endpointURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// isNotFoundError checks if an error is a "not found" error from S3.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	// Some S3-compatible stores return bare 404s the SDK cannot classify
	errMsg := err.Error()
	return strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "NoSuchKey")
}
