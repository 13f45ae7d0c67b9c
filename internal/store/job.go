package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

// JobUpdate names the mutable job columns. Nil fields are left untouched.
type JobUpdate struct {
	TaskName      *string
	Status        *string
	Engine        *string
	Progress      *float64
	ErrorMessage  *string
	StatusMessage *string
	NodeID        *string
	RetryCount    *int
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

type Job interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, job api.Job) (*api.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*api.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (*api.JobList, error)
	Update(ctx context.Context, id uuid.UUID, update JobUpdate) (*api.Job, error)
	ClaimNextQueued(ctx context.Context) (*api.Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJob(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Job{}, &model.JobFile{}, &model.JobSettings{})
}

func (s *JobStore) Create(ctx context.Context, job api.Job) (*api.Job, error) {
	row := model.NewJobFromApiResource(&job)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = api.JobStatusDraft
	}
	if err := s.getDB(ctx).WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	created := row.ToApiResource()
	return &created, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job := model.NewJobFromId(id)
	if err := s.getDB(ctx).WithContext(ctx).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	apiJob := job.ToApiResource()
	return &apiJob, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (*api.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&jobs).Find(&jobs).Error; err != nil {
		return nil, err
	}

	apiList := jobs.ToApiResource()
	return &apiList, nil
}

func (s *JobStore) Update(ctx context.Context, id uuid.UUID, update JobUpdate) (*api.Job, error) {
	job := model.NewJobFromId(id)
	selectFields := []string{}
	if update.TaskName != nil {
		job.TaskName = *update.TaskName
		selectFields = append(selectFields, "task_name")
	}
	if update.Status != nil {
		job.Status = *update.Status
		selectFields = append(selectFields, "status")
	}
	if update.Engine != nil {
		job.Engine = *update.Engine
		selectFields = append(selectFields, "engine")
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
		selectFields = append(selectFields, "progress")
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
		selectFields = append(selectFields, "error_message")
	}
	if update.StatusMessage != nil {
		job.StatusMessage = update.StatusMessage
		selectFields = append(selectFields, "status_message")
	}
	if update.NodeID != nil {
		job.NodeID = update.NodeID
		selectFields = append(selectFields, "node_id")
	}
	if update.RetryCount != nil {
		job.RetryCount = *update.RetryCount
		selectFields = append(selectFields, "retry_count")
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
		selectFields = append(selectFields, "started_at")
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
		selectFields = append(selectFields, "completed_at")
	}
	if len(selectFields) == 0 {
		return s.Get(ctx, id)
	}

	result := s.getDB(ctx).WithContext(ctx).Model(job).Clauses(clause.Returning{}).Select(selectFields).Updates(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	return s.Get(ctx, id)
}

// ClaimNextQueued hands the oldest queued job to the calling worker. The
// claim is a compare-and-swap on the status column so two workers polling at
// once cannot take the same job.
func (s *JobStore) ClaimNextQueued(ctx context.Context) (*api.Job, error) {
	db := s.getDB(ctx).WithContext(ctx)

	for attempt := 0; attempt < 3; attempt++ {
		var candidate model.Job
		err := db.Where("status = ?", api.JobStatusQueued).Order("created_at").First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNoQueuedJob
			}
			return nil, err
		}

		now := time.Now().UTC()
		result := db.Model(&model.Job{}).
			Where("id = ? AND status = ?", candidate.ID, api.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":     api.JobStatusProcessing,
				"started_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// lost the race, try the next candidate
			continue
		}

		return s.Get(ctx, candidate.ID)
	}

	return nil, ErrNoQueuedJob
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string
		Total  int
	}
	err := s.getDB(ctx).WithContext(ctx).
		Model(&model.Job{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// FailStale flips processing jobs whose last heartbeat predates the cutoff
// into the error state. It returns the number of jobs swept.
func (s *JobStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	result := s.getDB(ctx).WithContext(ctx).
		Model(&model.Job{}).
		Where("status = ? AND updated_at < ?", api.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        api.JobStatusError,
			"error_message": message,
		})
	return result.RowsAffected, result.Error
}

func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	job := model.NewJobFromId(id)
	result := s.getDB(ctx).WithContext(ctx).Unscoped().Select(clause.Associations).Delete(&job)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
