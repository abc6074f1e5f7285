package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/richardartoul/mediacache/scrape"
)

// Backend types.
const (
	BackendS3   = "s3"
	BackendGCS  = "gcs"
	BackendDisk = "disk"
)

// Config holds everything needed to reach the store and the outside world.
// It is built once from flags and environment and never mutated afterwards.
type Config struct {
	Backend         string
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	Bucket          string
	UsePathStyle    bool

	GCSCredentialsFile string
	GCSEndpoint        string
	DiskDir            string

	FetchTimeout  time.Duration
	FetchMaxBytes int64

	ScrapeTimeout time.Duration
	ChromePath    string
	CDPURL        string
	Headless      bool
	SharePattern  string
	MediaPrefixes []string

	DedupeType    string
	DedupeLockDir string
	RedisAddr     string
	RedisPassword string
	LockTimeout   time.Duration

	Debug      bool
	PrintStats bool
	ErrorRate  float64
}

// ConfigError reports configuration that is missing or invalid.
type ConfigError struct {
	Backend string
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s storage not fully configured: missing %s", e.Backend, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid %s storage configuration: %s", e.Backend, e.Reason)
}

// BucketFor returns override when it is non-blank and the configured default otherwise.
func (c Config) BucketFor(override string) string {
	if b := strings.TrimSpace(override); b != "" {
		return b
	}
	return strings.TrimSpace(c.Bucket)
}

// Validate checks that bucket can be reached with this configuration.
// It performs no I/O.
func (c Config) Validate(bucket string) error {
	backend := strings.ToLower(c.Backend)

	var missing []string
	if strings.TrimSpace(bucket) == "" {
		missing = append(missing, "bucket")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}

	switch backend {
	case BackendS3:
		if strings.TrimSpace(c.AccessKeyID) == "" {
			missing = append(missing, "access key id")
		}
		if strings.TrimSpace(c.AccessKeySecret) == "" {
			missing = append(missing, "access key secret")
		}
	case BackendGCS:
		if strings.TrimSpace(c.GCSCredentialsFile) == "" {
			missing = append(missing, "gcs credentials file")
		}
	case BackendDisk:
		if strings.TrimSpace(c.DiskDir) == "" {
			missing = append(missing, "disk dir")
		}
	default:
		return &ConfigError{
			Backend: c.Backend,
			Reason:  fmt.Sprintf("unknown backend type %q (supported: s3, gcs, disk)", c.Backend),
		}
	}

	if len(missing) > 0 {
		return &ConfigError{Backend: backend, Missing: missing}
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return &ConfigError{Backend: backend, Reason: fmt.Sprintf("error rate %.2f outside [0, 1]", c.ErrorRate)}
	}
	return nil
}

// PublicURL returns the browser-reachable URL of path in bucket.
func (c Config) PublicURL(bucket, path string) string {
	return fmt.Sprintf("https://%s.%s/%s", bucket, storeHost(c.Endpoint), strings.TrimPrefix(path, "/"))
}

// storeHost strips the scheme and any trailing slash from endpoint.
func storeHost(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

// registerConfigFlags binds the shared configuration flags to fs, with
// defaults taken from the environment. The returned function assembles the
// Config once fs has been parsed.
func registerConfigFlags(fs *flag.FlagSet) func() Config {
	var (
		cfg      Config
		prefixes string
	)

	fs.StringVar(&cfg.Backend, "backend", getEnv("BACKEND_TYPE", getEnv("BACKEND", BackendS3)), "Backend type: s3, gcs, disk (env: BACKEND_TYPE)")
	fs.StringVar(&cfg.Endpoint, "endpoint", getEnv("STORE_ENDPOINT", ""), "Object store endpoint, e.g. oss-cn-hangzhou.aliyuncs.com (env: STORE_ENDPOINT)")
	fs.StringVar(&cfg.AccessKeyID, "access-key-id", getEnv("STORE_ACCESS_KEY_ID", ""), "Access key id for the s3 backend (env: STORE_ACCESS_KEY_ID)")
	fs.StringVar(&cfg.AccessKeySecret, "access-key-secret", getEnv("STORE_ACCESS_KEY_SECRET", ""), "Access key secret for the s3 backend (env: STORE_ACCESS_KEY_SECRET)")
	fs.StringVar(&cfg.Region, "region", getEnv("STORE_REGION", ""), "Region for the s3 backend (env: STORE_REGION)")
	fs.StringVar(&cfg.Bucket, "bucket", getEnv("STORE_BUCKET", ""), "Default bucket (env: STORE_BUCKET)")
	fs.BoolVar(&cfg.UsePathStyle, "path-style", getEnvBool("STORE_PATH_STYLE", false), "Use path-style addressing for the s3 backend (env: STORE_PATH_STYLE)")
	fs.StringVar(&cfg.GCSCredentialsFile, "gcs-credentials", getEnv("GCS_CREDENTIALS_FILE", ""), "Credentials file for the gcs backend (env: GCS_CREDENTIALS_FILE)")
	fs.StringVar(&cfg.GCSEndpoint, "gcs-endpoint", getEnv("GCS_ENDPOINT", ""), "Optional API endpoint for the gcs backend, e.g. a fake-gcs-server (env: GCS_ENDPOINT)")
	fs.StringVar(&cfg.DiskDir, "disk-dir", getEnv("DISK_DIR", filepath.Join(os.TempDir(), "mediacache")), "Root directory for the disk backend (env: DISK_DIR)")

	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", getEnvDuration("FETCH_TIMEOUT", 10*time.Minute), "Timeout for one media download (env: FETCH_TIMEOUT)")
	fs.Int64Var(&cfg.FetchMaxBytes, "fetch-max-bytes", getEnvInt64("FETCH_MAX_BYTES", 2<<30), "Largest accepted media body in bytes (env: FETCH_MAX_BYTES)")

	fs.DurationVar(&cfg.ScrapeTimeout, "scrape-timeout", getEnvDuration("SCRAPE_TIMEOUT", 60*time.Second), "Timeout for one share page render (env: SCRAPE_TIMEOUT)")
	fs.StringVar(&cfg.ChromePath, "chrome-path", getEnv("CHROME_PATH", ""), "Browser binary used for scraping (env: CHROME_PATH)")
	fs.StringVar(&cfg.CDPURL, "cdp-url", getEnv("CDP_URL", ""), "Remote DevTools endpoint; overrides -chrome-path (env: CDP_URL)")
	fs.BoolVar(&cfg.Headless, "headless", getEnvBool("HEADLESS", true), "Run the browser headless (env: HEADLESS)")
	fs.StringVar(&cfg.SharePattern, "share-pattern", getEnv("SHARE_PATTERN", scrape.DefaultSharePattern), "Regexp matching share links (env: SHARE_PATTERN)")
	fs.StringVar(&prefixes, "media-prefixes", getEnv("MEDIA_PREFIXES", strings.Join(scrape.DefaultMediaPrefixes, ",")), "Comma-separated accepted media URL prefixes (env: MEDIA_PREFIXES)")

	fs.StringVar(&cfg.DedupeType, "dedupe", getEnv("DEDUPE_TYPE", "memory"), "Deduplication type: memory, fslock, redis, noop (env: DEDUPE_TYPE)")
	fs.StringVar(&cfg.DedupeLockDir, "dedupe-lock-dir", getEnv("DEDUPE_LOCK_DIR", ""), "Lock directory for fslock dedupe (env: DEDUPE_LOCK_DIR)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address for redis dedupe (env: REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password for redis dedupe (env: REDIS_PASSWORD)")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", getEnvDuration("LOCK_TIMEOUT", 10*time.Minute), "How long to wait for a dedupe lock (env: LOCK_TIMEOUT)")

	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging to stderr (env: DEBUG)")
	fs.BoolVar(&cfg.PrintStats, "stats", getEnvBool("PRINT_STATS", false), "Print statistics on exit (env: PRINT_STATS)")
	fs.Float64Var(&cfg.ErrorRate, "error-rate", getEnvFloat("ERROR_RATE", 0.0), "Error injection rate (0.0-1.0) for testing error handling (env: ERROR_RATE)")

	return func() Config {
		cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
		cfg.MediaPrefixes = splitList(prefixes)
		return cfg
	}
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
// Accepts: true, false, 1, 0, yes, no (case insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvFloat gets a float64 environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var f float64
	if _, err := fmt.Sscanf(value, "%f", &f); err != nil {
		return defaultValue
	}
	return f
}

// getEnvInt64 gets an int64 environment variable or returns a default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration gets a duration environment variable (e.g. "90s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
