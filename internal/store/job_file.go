package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

type JobFile interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, file api.JobFile) (*api.JobFile, error)
	GetByKey(ctx context.Context, key string) (*api.JobFile, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, fileTypes ...string) ([]api.JobFile, error)
	DeleteByKeys(ctx context.Context, keys []string) error
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
}

type JobFileStore struct {
	db *gorm.DB
}

// Make sure we conform to JobFile interface
var _ JobFile = (*JobFileStore)(nil)

func NewJobFile(db *gorm.DB) JobFile {
	return &JobFileStore{db: db}
}

func (s *JobFileStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.JobFile{})
}

// Create registers a file under its job. A second registration of the same
// key overwrites the name, size and metadata of the first.
func (s *JobFileStore) Create(ctx context.Context, file api.JobFile) (*api.JobFile, error) {
	row := model.NewJobFileFromApiResource(&file)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}

	err := s.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "file_size", "metadata"}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	created := row.ToApiResource()
	return &created, nil
}

func (s *JobFileStore) GetByKey(ctx context.Context, key string) (*api.JobFile, error) {
	var row model.JobFile
	if err := s.getDB(ctx).WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	apiFile := row.ToApiResource()
	return &apiFile, nil
}

func (s *JobFileStore) ListByJob(ctx context.Context, jobID uuid.UUID, fileTypes ...string) ([]api.JobFile, error) {
	var rows model.JobFileList
	tx := s.getDB(ctx).WithContext(ctx).Where("job_id = ?", jobID)
	if len(fileTypes) > 0 {
		tx = tx.Where("file_type IN ?", fileTypes)
	}
	if err := tx.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows.ToApiResource(), nil
}

func (s *JobFileStore) DeleteByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.getDB(ctx).WithContext(ctx).Unscoped().Where("key IN ?", keys).Delete(&model.JobFile{}).Error
}

func (s *JobFileStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	return s.getDB(ctx).WithContext(ctx).Unscoped().Where("job_id = ?", jobID).Delete(&model.JobFile{}).Error
}

func (s *JobFileStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
