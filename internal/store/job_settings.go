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

type JobSettings interface {
	InitialMigration(ctx context.Context) error
	Upsert(ctx context.Context, jobID uuid.UUID, settings api.JobSettings) (*api.JobSettings, error)
	Get(ctx context.Context, jobID uuid.UUID) (*api.JobSettings, error)
}

type JobSettingsStore struct {
	db *gorm.DB
}

// Make sure we conform to JobSettings interface
var _ JobSettings = (*JobSettingsStore)(nil)

func NewJobSettings(db *gorm.DB) JobSettings {
	return &JobSettingsStore{db: db}
}

func (s *JobSettingsStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.JobSettings{})
}

func (s *JobSettingsStore) Upsert(ctx context.Context, jobID uuid.UUID, settings api.JobSettings) (*api.JobSettings, error) {
	row := model.NewJobSettingsFromApiResource(jobID, &settings)

	err := s.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"text_model", "table_model", "image_model", "stamp_model", "is_correction_mode",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	stored := row.ToApiResource()
	return &stored, nil
}

func (s *JobSettingsStore) Get(ctx context.Context, jobID uuid.UUID) (*api.JobSettings, error) {
	var row model.JobSettings
	if err := s.getDB(ctx).WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	stored := row.ToApiResource()
	return &stored, nil
}

func (s *JobSettingsStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
