package objstore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

type MinioStore struct {
	client        *minio.Client
	bucket        string
	presignExpiry time.Duration
}

// Make sure we conform to Store interface
var _ Store = (*MinioStore)(nil)

func NewMinioStore(cfg *config.StorageConfig) (*MinioStore, error) {
	// Initialize minio client object.
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	return &MinioStore{
		client:        minioClient,
		bucket:        cfg.Bucket,
		presignExpiry: time.Duration(cfg.PresignExpiryS) * time.Second,
	}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %q", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %q", s.bucket)
	}
	zap.S().Named("objstore").Infof("created bucket %q", s.bucket)
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return errors.Wrapf(err, "failed to upload %q", key)
	}
	return nil
}

func (s *MinioStore) UploadFile(ctx context.Context, key, path, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.FPutObject(ctx, s.bucket, key, path, opts); err != nil {
		return errors.Wrapf(err, "failed to upload file %q to %q", path, key)
	}
	return nil
}

func (s *MinioStore) UploadText(ctx context.Context, key, content string) error {
	data := []byte(content)
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "text/plain; charset=utf-8")
}

func (s *MinioStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %q", key)
	}
	// GetObject is lazy. Stat forces the first roundtrip so missing keys
	// surface here instead of on the first read.
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, errors.Wrapf(err, "failed to stat %q", key)
	}
	return object, nil
}

func (s *MinioStore) DownloadFile(ctx context.Context, key, path string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrObjectNotFound
		}
		return errors.Wrapf(err, "failed to download %q to %q", key, path)
	}
	return nil
}

func (s *MinioStore) DownloadText(ctx context.Context, key string) (string, error) {
	object, err := s.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer object.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, object); err != nil {
		return "", errors.Wrapf(err, "failed to read %q", key)
	}
	return sb.String(), nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat %q", key)
	}
	return true, nil
}

func (s *MinioStore) ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, errors.Wrapf(object.Err, "failed to list prefix %q", prefix)
		}
		infos = append(infos, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	return infos, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, "failed to delete %q", key)
	}
	return nil
}

func (s *MinioStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	for rmErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rmErr.Err != nil {
			return errors.Wrapf(rmErr.Err, "failed to delete %q", rmErr.ObjectName)
		}
	}
	return nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key, fileName string) (string, error) {
	reqParams := make(url.Values)
	if fileName != "" {
		reqParams.Set("response-content-disposition", `attachment; filename="`+fileName+`"`)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, reqParams)
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign %q", key)
	}
	return presigned.String(), nil
}
