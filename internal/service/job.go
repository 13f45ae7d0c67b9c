// Package service implements the business layer between the HTTP handlers
// and the stores: job lifecycle, queue admission, the storage proxy and the
// tree proxy.
package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/events"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/ocr"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/pkg/metrics"
)

// Input object names under a job's storage prefix.
const (
	ObjectNamePDF        = "document.pdf"
	ObjectNameBlocks     = "blocks.json"
	ObjectNameAnnotation = "annotation.json"
)

const storagePrefixRoot = "ocr_jobs"

// JobStoragePrefix is the object store prefix holding everything a job owns.
func JobStoragePrefix(id uuid.UUID) string {
	return storagePrefixRoot + "/" + id.String()
}

type JobService struct {
	store       store.Store
	objects     objstore.Store
	broker      queue.Broker
	eventWriter *events.EventProducer
	cfg         *config.Config
	log         *zap.SugaredLogger
}

func NewJobService(st store.Store, objects objstore.Store, broker queue.Broker, ew *events.EventProducer, cfg *config.Config) *JobService {
	return &JobService{
		store:       st,
		objects:     objects,
		broker:      broker,
		eventWriter: ew,
		cfg:         cfg,
		log:         zap.S().Named("service"),
	}
}

// CreateJobForm carries the multipart fields of a job creation request.
type CreateJobForm struct {
	ClientID     string
	DocumentID   string
	DocumentName string
	TaskName     string
	Engine       string
	NodeID       *string
	Settings     api.JobSettings
	PDF          []byte
	PDFName      string
	Blocks       []byte
	Annotation   []byte
}

func (f *CreateJobForm) validate(draft bool) error {
	if f.ClientID == "" {
		return NewErrInvalidInput("client_id is required")
	}
	if f.DocumentID == "" {
		return NewErrInvalidInput("document_id is required")
	}
	if len(f.PDF) == 0 {
		return NewErrInvalidInput("pdf file is required")
	}
	if draft {
		if len(f.Annotation) == 0 {
			return NewErrInvalidInput("annotation file is required")
		}
		return nil
	}
	if len(f.Blocks) == 0 {
		return NewErrInvalidInput("blocks file is required")
	}
	return nil
}

func (f *CreateJobForm) engine() string {
	if f.Engine == "" {
		return ocr.BackendNameVision
	}
	return f.Engine
}

// CreateJob uploads the inputs, persists the job as queued and hands it to
// the broker. A job persisted but not published stays queued and is picked
// up by the worker's boot sweep.
func (s *JobService) CreateJob(ctx context.Context, form CreateJobForm) (*api.Job, error) {
	if err := form.validate(false); err != nil {
		return nil, err
	}
	if _, err := document.ParseBlocks(form.Blocks); err != nil {
		return nil, NewErrBlocksFileCorrupted(err)
	}
	if err := s.checkAdmission(ctx); err != nil {
		return nil, err
	}

	id := uuid.New()
	job, err := s.persistJob(ctx, id, form, api.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	if err := s.broker.Publish(ctx, queue.TopicJobs, []byte(id.String())); err != nil {
		return nil, NewErrBrokerUnavailable(err)
	}

	metrics.IncreaseJobsSubmittedMetric()
	s.emitJobStatus(ctx, job, "")
	s.log.Infow("job created", "job_id", id, "client_id", form.ClientID, "engine", form.engine())
	return job, nil
}

// CreateDraft persists the job in the draft state without publishing it. A
// draft carries an annotation.json instead of a blocks.json; the block list
// is recovered from it when the draft is started.
func (s *JobService) CreateDraft(ctx context.Context, form CreateJobForm) (*api.Job, error) {
	if err := form.validate(true); err != nil {
		return nil, err
	}
	if _, err := document.ParseAnnotation(form.Annotation); err != nil {
		return nil, NewErrAnnotationFileCorrupted(err)
	}

	id := uuid.New()
	job, err := s.persistJob(ctx, id, form, api.JobStatusDraft)
	if err != nil {
		return nil, err
	}

	s.emitJobStatus(ctx, job, "")
	s.log.Infow("draft created", "job_id", id, "client_id", form.ClientID)
	return job, nil
}

func (s *JobService) persistJob(ctx context.Context, id uuid.UUID, form CreateJobForm, status string) (*api.Job, error) {
	prefix := JobStoragePrefix(id)
	pdfKey := prefix + "/" + ObjectNamePDF

	if err := s.objects.Upload(ctx, pdfKey, bytes.NewReader(form.PDF), int64(len(form.PDF)), "application/pdf"); err != nil {
		return nil, NewErrStorageUnavailable(err)
	}

	blocksName := ObjectNameBlocks
	blocksType := api.FileTypeBlocks
	blocksData := form.Blocks
	if status == api.JobStatusDraft {
		blocksName = ObjectNameAnnotation
		blocksType = api.FileTypeAnnotation
		blocksData = form.Annotation
	}
	blocksKey := prefix + "/" + blocksName
	if err := s.objects.UploadText(ctx, blocksKey, string(blocksData)); err != nil {
		return nil, NewErrStorageUnavailable(err)
	}

	taskName := form.TaskName
	if taskName == "" {
		taskName = form.DocumentName
	}
	pdfName := form.PDFName
	if pdfName == "" {
		pdfName = ObjectNamePDF
	}

	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Job().Create(ctx, api.Job{
		ID:            id.String(),
		ClientID:      form.ClientID,
		DocumentID:    form.DocumentID,
		DocumentName:  form.DocumentName,
		TaskName:      taskName,
		Status:        status,
		Engine:        form.engine(),
		StoragePrefix: prefix,
	}); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}
	if form.NodeID != nil {
		if _, err := s.store.Job().Update(ctx, id, store.JobUpdate{NodeID: form.NodeID}); err != nil {
			_, _ = store.Rollback(ctx)
			return nil, err
		}
	}

	files := []api.JobFile{
		{JobID: id.String(), FileType: api.FileTypePDF, Key: pdfKey, FileName: pdfName, FileSize: int64(len(form.PDF))},
		{JobID: id.String(), FileType: blocksType, Key: blocksKey, FileName: blocksName, FileSize: int64(len(blocksData))},
	}
	for _, f := range files {
		if _, err := s.store.JobFile().Create(ctx, f); err != nil {
			_, _ = store.Rollback(ctx)
			return nil, err
		}
	}

	if _, err := s.store.JobSettings().Upsert(ctx, id, form.Settings); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}

	return s.store.Job().Get(ctx, id)
}

// StartDraft queues a draft with the given engine and model selection.
func (s *JobService) StartDraft(ctx context.Context, id uuid.UUID, req api.StartJobRequest) (*api.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != api.JobStatusDraft {
		return nil, NewErrInvalidTransition(job.Status, "start")
	}
	if err := s.checkAdmission(ctx); err != nil {
		return nil, err
	}

	if _, err := s.store.JobSettings().Upsert(ctx, id, api.JobSettings{
		TextModel:        req.TextModel,
		TableModel:       req.TableModel,
		ImageModel:       req.ImageModel,
		StampModel:       req.StampModel,
		IsCorrectionMode: req.IsCorrectionMode,
	}); err != nil {
		return nil, err
	}

	update := store.JobUpdate{Status: ptr(api.JobStatusQueued)}
	if req.Engine != "" {
		update.Engine = &req.Engine
	}
	updated, err := s.store.Job().Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	if err := s.broker.Publish(ctx, queue.TopicJobs, []byte(id.String())); err != nil {
		return nil, NewErrBrokerUnavailable(err)
	}

	metrics.IncreaseJobsSubmittedMetric()
	s.emitJobStatus(ctx, updated, api.JobStatusDraft)
	s.log.Infow("draft started", "job_id", id, "engine", updated.Engine)
	return updated, nil
}

// JobListFilter narrows ListJobs. Zero fields are ignored.
type JobListFilter struct {
	ClientID   string
	DocumentID string
}

// ListJobs returns job summaries newest first.
func (s *JobService) ListJobs(ctx context.Context, filter JobListFilter) (*api.JobList, error) {
	qf := store.NewJobQueryFilter()
	if filter.ClientID != "" {
		qf = qf.ByClientID(filter.ClientID)
	}
	if filter.DocumentID != "" {
		qf = qf.ByDocumentID(filter.DocumentID)
	}
	opts := store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTimeDesc)
	return s.store.Job().List(ctx, qf, opts)
}

// JobsChanges returns jobs updated after the given instant, oldest first, so
// clients can poll incrementally.
func (s *JobService) JobsChanges(ctx context.Context, since time.Time) (*api.JobList, error) {
	qf := store.NewJobQueryFilter().ChangedSince(since)
	opts := store.NewJobQueryOptions().WithSortOrder(store.SortByUpdatedTime)
	return s.store.Job().List(ctx, qf, opts)
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	return s.getJob(ctx, id)
}

var artifactIcons = map[string]string{
	api.FileTypePDF:        "pdf",
	api.FileTypeBlocks:     "json",
	api.FileTypeAnnotation: "json",
	api.FileTypeResultMD:   "markdown",
	api.FileTypeOcrHTML:    "html",
	api.FileTypeResultJSON: "json",
	api.FileTypeResultZip:  "archive",
	api.FileTypeCrop:       "image",
}

// GetJobDetails assembles the job, its settings, the block statistics and
// the enumerated artifact list.
func (s *JobService) GetJobDetails(ctx context.Context, id uuid.UUID) (*api.JobDetails, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &api.JobDetails{
		Job:       *job,
		BaseURL:   strings.TrimSuffix(s.cfg.Service.BaseURL, "/") + "/api/storage/download/" + job.StoragePrefix,
		Artifacts: []api.ArtifactInfo{},
	}

	if settings, err := s.store.JobSettings().Get(ctx, id); err == nil {
		details.Settings = settings
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	stats, err := s.blockStats(ctx, id)
	if err != nil {
		s.log.Warnw("block stats unavailable", "job_id", id, "error", err)
	} else {
		details.BlockStats = stats
	}

	files, err := s.store.JobFile().ListByJob(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		icon, ok := artifactIcons[f.FileType]
		if !ok {
			icon = "file"
		}
		details.Artifacts = append(details.Artifacts, api.ArtifactInfo{
			FileType: f.FileType,
			FileName: f.FileName,
			Key:      f.Key,
			FileSize: f.FileSize,
			Icon:     icon,
		})
	}

	return details, nil
}

// blockStats recomputes the statistics from the stored block list. Drafts
// carry an annotation instead of a blocks file.
func (s *JobService) blockStats(ctx context.Context, id uuid.UUID) (*api.BlockStats, error) {
	var blocks []document.Block

	files, err := s.store.JobFile().ListByJob(ctx, id, api.FileTypeBlocks, api.FileTypeAnnotation)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		content, err := s.objects.DownloadText(ctx, f.Key)
		if err != nil {
			return nil, err
		}
		switch f.FileType {
		case api.FileTypeBlocks:
			blocks, err = document.ParseBlocks([]byte(content))
		case api.FileTypeAnnotation:
			var ann *document.Annotation
			ann, err = document.ParseAnnotation([]byte(content))
			if err == nil {
				blocks = ann.AllBlocks()
			}
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if blocks == nil {
		return nil, errors.New("no block list stored")
	}

	stats := document.ComputeStats(blocks)
	return &api.BlockStats{
		Total:   stats.Total,
		ByType:  stats.ByType,
		Grouped: stats.Grouped,
	}, nil
}

// GetResultURL presigns the result archive of a finished job.
func (s *JobService) GetResultURL(ctx context.Context, id uuid.UUID) (*api.ResultURL, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != api.JobStatusDone {
		return nil, NewErrNotReady(id, job.Status)
	}

	key := strings.TrimSuffix(job.StoragePrefix, "/") + "/result.zip"
	if _, err := s.store.JobFile().GetByKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrArtifactNotFound(id, "result.zip")
		}
		return nil, err
	}

	fileName := "result.zip"
	if job.DocumentName != "" {
		fileName = job.DocumentName + "_result.zip"
	}
	url, err := s.objects.PresignGet(ctx, key, fileName)
	if err != nil {
		return nil, NewErrStorageUnavailable(err)
	}
	return &api.ResultURL{DownloadURL: url, FileName: fileName}, nil
}

// PauseJob asks a queued or processing job to stop. A processing job pauses
// cooperatively at its next checkpoint.
func (s *JobService) PauseJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != api.JobStatusQueued && job.Status != api.JobStatusProcessing {
		return nil, NewErrInvalidTransition(job.Status, "pause")
	}
	paused, err := s.store.Job().Update(ctx, id, store.JobUpdate{Status: ptr(api.JobStatusPaused)})
	if err != nil {
		return nil, err
	}
	s.emitJobStatus(ctx, paused, job.Status)
	return paused, nil
}

// ResumeJob re-queues a paused job. The run restarts from scratch; the
// previous worker's workspace is gone.
func (s *JobService) ResumeJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != api.JobStatusPaused {
		return nil, NewErrInvalidTransition(job.Status, "resume")
	}
	return s.requeue(ctx, job)
}

// RestartJob re-queues a failed job. A processing job whose worker crashed
// may also be restarted by the user.
func (s *JobService) RestartJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != api.JobStatusError && job.Status != api.JobStatusProcessing {
		return nil, NewErrInvalidTransition(job.Status, "restart")
	}
	return s.requeue(ctx, job)
}

func (s *JobService) requeue(ctx context.Context, job *api.Job) (*api.Job, error) {
	id, err := uuid.Parse(job.ID)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Job().Update(ctx, id, store.JobUpdate{
		Status:        ptr(api.JobStatusQueued),
		Progress:      ptr(0.0),
		ErrorMessage:  ptr(""),
		StatusMessage: ptr(""),
		RetryCount:    ptr(0),
	})
	if err != nil {
		return nil, err
	}
	if err := s.broker.Publish(ctx, queue.TopicJobs, []byte(job.ID)); err != nil {
		return nil, NewErrBrokerUnavailable(err)
	}
	s.emitJobStatus(ctx, updated, job.Status)
	return updated, nil
}

// DeleteJob removes the job's objects and rows. Node files registered on the
// tree survive; they reference the objects by key only.
func (s *JobService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}

	objects, err := s.objects.ListByPrefix(ctx, job.StoragePrefix)
	if err != nil {
		return NewErrStorageUnavailable(err)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	if err := s.objects.DeleteBatch(ctx, keys); err != nil {
		return NewErrStorageUnavailable(err)
	}

	if err := s.store.Job().Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("job deleted", "job_id", id, "objects", len(keys))
	return nil
}

// PatchJob renames the task.
func (s *JobService) PatchJob(ctx context.Context, id uuid.UUID, req api.PatchJobRequest) (*api.Job, error) {
	if req.TaskName == "" {
		return nil, NewErrInvalidInput("task_name is required")
	}
	if _, err := s.getJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Job().Update(ctx, id, store.JobUpdate{TaskName: &req.TaskName})
}

// QueueInfo reports the current queue depth against the admission limit.
func (s *JobService) QueueInfo(ctx context.Context) (*api.QueueInfo, error) {
	counts, err := s.store.Job().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &api.QueueInfo{
		Queued:     int64(counts[api.JobStatusQueued]),
		Processing: int64(counts[api.JobStatusProcessing]),
		Max:        s.cfg.Service.MaxQueueSize,
	}, nil
}

// checkAdmission enforces the queue cap. It is a soft guard; racing creates
// may briefly overshoot and the system self-corrects at claim time.
func (s *JobService) checkAdmission(ctx context.Context) error {
	max := s.cfg.Service.MaxQueueSize
	if max <= 0 {
		return nil
	}
	counts, err := s.store.Job().CountByStatus(ctx)
	if err != nil {
		return err
	}
	depth := counts[api.JobStatusQueued] + counts[api.JobStatusProcessing]
	if depth >= max {
		metrics.IncreaseJobsRejectedMetric("queue_full")
		return NewErrQueueFull(depth, max)
	}
	return nil
}

func (s *JobService) getJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

func ptr[T any](v T) *T {
	return &v
}
