package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Storage keeps attachment bodies outside the job record.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config holds S3-compatible storage settings. An empty Bucket disables
// attachment offloading.
type Config struct {
	Bucket    string `env:"STORAGE_BUCKET"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	// Endpoint targets MinIO or another S3-compatible service.
	Endpoint  string `env:"STORAGE_ENDPOINT"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	PathStyle bool   `env:"STORAGE_PATH_STYLE" envDefault:"false"`
	Prefix    string `env:"STORAGE_PREFIX" envDefault:"attachments"`
	// MaxSize caps a single attachment in bytes.
	MaxSize int64 `env:"STORAGE_MAX_ATTACHMENT_SIZE" envDefault:"10485760"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

func (c Config) validate() error {
	if c.Bucket == "" || c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("%w: bucket, access key and secret key are required", ErrInvalidConfig)
	}
	return nil
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttachmentKey builds "{prefix}/{jobID}/{index}-{filename}" with each
// segment reduced to a safe character set.
func AttachmentKey(prefix, jobID string, index int, filename string) string {
	name := sanitize(path.Base(filename))
	if name == "" {
		name = "attachment"
	}
	segments := []string{sanitize(jobID), fmt.Sprintf("%d-%s", index, name)}
	if p := strings.Trim(prefix, "/"); p != "" {
		segments = append([]string{p}, segments...)
	}
	return strings.Join(segments, "/")
}

func sanitize(s string) string {
	return strings.Trim(unsafeSegment.ReplaceAllString(s, "_"), "._")
}
