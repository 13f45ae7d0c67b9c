package service

import (
	"context"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/store"
)

// StorageService is the pass-through surface over the object store. Deletes
// also drop the file rows referencing the removed keys so the metadata store
// never points at missing objects.
type StorageService struct {
	objects objstore.Store
	store   store.Store
	log     *zap.SugaredLogger
}

func NewStorageService(objects objstore.Store, st store.Store) *StorageService {
	return &StorageService{
		objects: objects,
		store:   st,
		log:     zap.S().Named("storage"),
	}
}

func (s *StorageService) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return false, NewErrStorageUnavailable(err)
	}
	return ok, nil
}

func (s *StorageService) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if key == "" {
		return NewErrInvalidInput("key is required")
	}
	if err := s.objects.Upload(ctx, key, r, size, contentType); err != nil {
		return NewErrStorageUnavailable(err)
	}
	return nil
}

func (s *StorageService) UploadText(ctx context.Context, key, content string) error {
	if key == "" {
		return NewErrInvalidInput("key is required")
	}
	if err := s.objects.UploadText(ctx, key, content); err != nil {
		return NewErrStorageUnavailable(err)
	}
	return nil
}

// DownloadURL presigns a GET for the key, forcing the object's base name on
// the browser.
func (s *StorageService) DownloadURL(ctx context.Context, key string) (string, error) {
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return "", NewErrStorageUnavailable(err)
	}
	if !ok {
		return "", NewErrObjectNotFound(key)
	}
	url, err := s.objects.PresignGet(ctx, key, path.Base(key))
	if err != nil {
		return "", NewErrStorageUnavailable(err)
	}
	return url, nil
}

func (s *StorageService) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	objects, err := s.objects.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, NewErrStorageUnavailable(err)
	}
	return objects, nil
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	return s.DeleteBatch(ctx, []string{key})
}

func (s *StorageService) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.objects.DeleteBatch(ctx, keys); err != nil {
		return NewErrStorageUnavailable(err)
	}
	if err := s.store.JobFile().DeleteByKeys(ctx, keys); err != nil {
		return err
	}
	if err := s.store.Node().DeleteFilesByKeys(ctx, keys); err != nil {
		return err
	}
	s.log.Infow("objects deleted", "count", len(keys))
	return nil
}
