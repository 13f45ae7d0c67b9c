// Package objstore adapts the S3-compatible object store holding job inputs,
// intermediate crops and published artifacts.
package objstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Store interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, key, path, contentType string) error
	UploadText(ctx context.Context, key, content string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadFile(ctx context.Context, key, path string) error
	DownloadText(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	// PresignGet returns a time-limited download URL that forces the given
	// file name on the browser.
	PresignGet(ctx context.Context, key, fileName string) (string, error)
}
