// Package storage writes post snapshots to object storage (MinIO/S3 or
// Google Cloud Storage).
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tinyblog/blog/config"
)

const (
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

// ObjectStorage is the subset of bucket operations the exporter needs.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Bucket() string
	Close() error
}

// New connects to the object store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", BackendMinio:
		return NewMinioClient(cfg.Minio)
	case BackendGCS:
		return NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
