package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
)

type Job struct {
	ID            uuid.UUID `gorm:"primaryKey;"`
	ClientID      string    `gorm:"index;not null"`
	DocumentID    string    `gorm:"index;not null"`
	DocumentName  string
	TaskName      string
	Status        string `gorm:"index;not null"`
	Progress      float64
	Engine        string
	StoragePrefix string
	ErrorMessage  *string
	StatusMessage *string
	NodeID        *string
	RetryCount    int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Settings *JobSettings `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE;"`
	Files    []JobFile    `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE;"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

func NewJobFromId(id uuid.UUID) *Job {
	return &Job{ID: id}
}

func NewJobFromApiResource(resource *api.Job) *Job {
	id, _ := uuid.Parse(resource.ID)
	return &Job{
		ID:            id,
		ClientID:      resource.ClientID,
		DocumentID:    resource.DocumentID,
		DocumentName:  resource.DocumentName,
		TaskName:      resource.TaskName,
		Status:        resource.Status,
		Progress:      resource.Progress,
		Engine:        resource.Engine,
		StoragePrefix: resource.StoragePrefix,
		RetryCount:    resource.RetryCount,
	}
}

func (j *Job) ToApiResource() api.Job {
	return api.Job{
		ID:            j.ID.String(),
		ClientID:      j.ClientID,
		DocumentID:    j.DocumentID,
		DocumentName:  j.DocumentName,
		TaskName:      j.TaskName,
		Status:        j.Status,
		Progress:      j.Progress,
		Engine:        j.Engine,
		StoragePrefix: j.StoragePrefix,
		ErrorMessage:  j.ErrorMessage,
		StatusMessage: j.StatusMessage,
		NodeID:        j.NodeID,
		RetryCount:    j.RetryCount,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}

func (jl JobList) ToApiResource() api.JobList {
	items := make([]api.Job, 0, len(jl))
	for i := range jl {
		items = append(items, jl[i].ToApiResource())
	}
	return api.JobList{Items: items}
}

type JobFile struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	JobID     uuid.UUID `gorm:"index:job_files_job_id_file_type,priority:1;not null"`
	FileType  string    `gorm:"index:job_files_job_id_file_type,priority:2;not null"`
	Key       string    `gorm:"uniqueIndex;not null"`
	FileName  string
	FileSize  int64
	Metadata  []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

type JobFileList []JobFile

func NewJobFileFromApiResource(resource *api.JobFile) *JobFile {
	id, _ := uuid.Parse(resource.ID)
	jobID, _ := uuid.Parse(resource.JobID)
	var metadata []byte
	if len(resource.Metadata) > 0 {
		metadata, _ = json.Marshal(resource.Metadata)
	}
	return &JobFile{
		ID:       id,
		JobID:    jobID,
		FileType: resource.FileType,
		Key:      resource.Key,
		FileName: resource.FileName,
		FileSize: resource.FileSize,
		Metadata: metadata,
	}
}

func (f *JobFile) ToApiResource() api.JobFile {
	var metadata map[string]string
	if len(f.Metadata) > 0 {
		_ = json.Unmarshal(f.Metadata, &metadata)
	}
	return api.JobFile{
		ID:       f.ID.String(),
		JobID:    f.JobID.String(),
		FileType: f.FileType,
		Key:      f.Key,
		FileName: f.FileName,
		FileSize: f.FileSize,
		Metadata: metadata,
	}
}

func (fl JobFileList) ToApiResource() []api.JobFile {
	items := make([]api.JobFile, 0, len(fl))
	for i := range fl {
		items = append(items, fl[i].ToApiResource())
	}
	return items
}

type JobSettings struct {
	JobID            uuid.UUID `gorm:"primaryKey;"`
	TextModel        string
	TableModel       string
	ImageModel       string
	StampModel       string
	IsCorrectionMode bool
}

func NewJobSettingsFromApiResource(jobID uuid.UUID, resource *api.JobSettings) *JobSettings {
	return &JobSettings{
		JobID:            jobID,
		TextModel:        resource.TextModel,
		TableModel:       resource.TableModel,
		ImageModel:       resource.ImageModel,
		StampModel:       resource.StampModel,
		IsCorrectionMode: resource.IsCorrectionMode,
	}
}

func (s *JobSettings) ToApiResource() api.JobSettings {
	return api.JobSettings{
		TextModel:        s.TextModel,
		TableModel:       s.TableModel,
		ImageModel:       s.ImageModel,
		StampModel:       s.StampModel,
		IsCorrectionMode: s.IsCorrectionMode,
	}
}
