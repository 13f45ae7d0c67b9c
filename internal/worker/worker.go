// Package worker consumes job messages from the broker and drives each
// claimed job through the pipeline and the artifact build.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/artifact"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/pipeline"
	"github.com/corestructure/remote-ocr/internal/progress"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/service"
	"github.com/corestructure/remote-ocr/internal/store"
)

// maxJobAttempts bounds broker redeliveries of one job. The guard catches
// jobs that keep killing their worker before reaching a terminal status.
const maxJobAttempts = 3

var (
	errJobPaused    = errors.New("job paused")
	errJobCancelled = errors.New("job cancelled")
)

// transientError marks failures worth a broker redelivery, as opposed to
// deterministic ones that would fail the same way every time.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type Worker struct {
	store     store.Store
	objects   objstore.Store
	broker    queue.Broker
	pipeline  *pipeline.Pipeline
	artifacts *artifact.Builder
	cfg       *config.Config
	log       *zap.SugaredLogger
}

func New(st store.Store, objects objstore.Store, broker queue.Broker, pipe *pipeline.Pipeline, artifacts *artifact.Builder, cfg *config.Config) *Worker {
	return &Worker{
		store:     st,
		objects:   objects,
		broker:    broker,
		pipeline:  pipe,
		artifacts: artifacts,
		cfg:       cfg,
		log:       zap.S().Named("worker"),
	}
}

// Run consumes the job topic until the context is cancelled. Up to
// MaxConcurrentJobs jobs execute at once; when the queue is empty the loop
// sleeps for the jittered poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.sweepOrphanedJobs(ctx)

	pollInterval := time.Duration(w.cfg.Worker.PollIntervalS * float64(time.Second))
	ticker := jitterbug.New(pollInterval, &jitterbug.Norm{Stdev: pollInterval / 10, Mean: 0})
	defer ticker.Stop()

	slots := make(chan struct{}, w.cfg.Worker.MaxConcurrentJobs)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case slots <- struct{}{}:
		}

		msg, err := w.broker.Receive(ctx, queue.TopicJobs, w.leaseDuration())
		if err != nil {
			<-slots
			if !errors.Is(err, queue.ErrEmpty) {
				w.log.Errorw("broker receive failed", "error", err)
			}
			w.sweep(ctx)
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case <-ticker.C:
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.handle(ctx, msg)
		}()
	}
}

// leaseDuration keeps the broker lease longer than the hard task time limit
// so a live worker never loses its message mid-run.
func (w *Worker) leaseDuration() time.Duration {
	return time.Duration(w.cfg.Worker.TaskTimeLimitS)*time.Second + 2*time.Minute
}

// sweep returns expired leases to the queue and fails processing jobs whose
// last heartbeat predates the task time limit, so a crashed worker's job
// surfaces as an error the user can restart.
func (w *Worker) sweep(ctx context.Context) {
	if released, err := w.broker.ReleaseExpired(ctx, queue.TopicJobs); err != nil {
		w.log.Errorw("lease sweep failed", "error", err)
	} else if released > 0 {
		w.log.Infow("released expired leases", "count", released)
	}

	cutoff := time.Now().UTC().Add(-w.leaseDuration() - 5*time.Minute)
	if swept, err := w.store.Job().FailStale(ctx, cutoff, "worker lost"); err != nil {
		w.log.Errorw("stale job sweep failed", "error", err)
	} else if swept > 0 {
		w.log.Warnw("failed stale jobs", "count", swept)
	}
}

// sweepOrphanedJobs republishes queued jobs that have no broker message.
// They exist when a publish failed after commit or the queue table was lost.
func (w *Worker) sweepOrphanedJobs(ctx context.Context) {
	list, err := w.store.Job().List(ctx,
		store.NewJobQueryFilter().ByStatus(api.JobStatusQueued),
		store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTime))
	if err != nil {
		w.log.Errorw("orphan sweep failed", "error", err)
		return
	}

	for _, job := range list.Items {
		payload := []byte(job.ID)
		pending, err := w.broker.HasMessage(ctx, queue.TopicJobs, payload)
		if err != nil {
			w.log.Errorw("orphan sweep failed", "job_id", job.ID, "error", err)
			return
		}
		if pending {
			continue
		}
		if err := w.broker.Publish(ctx, queue.TopicJobs, payload); err != nil {
			w.log.Errorw("orphan republish failed", "job_id", job.ID, "error", err)
			return
		}
		w.log.Infow("republished orphaned job", "job_id", job.ID)
	}
}

// handle claims the next queued job for the received message and drives it
// to a terminal status. The message itself is only a notification; the claim
// decides which job runs.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	job, err := w.store.Job().ClaimNextQueued(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoQueuedJob) {
			w.ack(ctx, msg)
			return
		}
		w.log.Errorw("claim failed", "error", err)
		w.nack(ctx, msg)
		return
	}

	id, err := uuid.Parse(job.ID)
	if err != nil {
		w.log.Errorw("claimed job has malformed id", "job_id", job.ID)
		w.ack(ctx, msg)
		return
	}

	if msg.Attempts > maxJobAttempts || job.RetryCount >= maxJobAttempts {
		w.failJob(ctx, id, "too many attempts")
		w.ack(ctx, msg)
		return
	}
	retries := job.RetryCount + 1
	if _, err := w.store.Job().Update(ctx, id, store.JobUpdate{RetryCount: &retries}); err != nil {
		w.log.Errorw("retry count update failed", "job_id", id, "error", err)
	}

	w.log.Infow("job claimed", "job_id", id, "attempt", retries)
	err = w.process(ctx, id, job)
	switch {
	case err == nil:
		w.log.Infow("job done", "job_id", id)
		w.ack(ctx, msg)
	case errors.Is(err, errJobPaused):
		w.log.Infow("job paused", "job_id", id)
		w.ack(ctx, msg)
	case errors.Is(err, errJobCancelled):
		w.log.Infow("job cancelled", "job_id", id)
		w.ack(ctx, msg)
	case isTransient(err):
		w.log.Warnw("job failed transiently, requeueing", "job_id", id, "error", err)
		if _, uerr := w.store.Job().Update(ctx, id, store.JobUpdate{Status: ptr(api.JobStatusQueued)}); uerr != nil {
			w.log.Errorw("requeue failed", "job_id", id, "error", uerr)
		}
		w.nack(ctx, msg)
	default:
		w.log.Errorw("job failed", "job_id", id, "error", err)
		w.failJob(ctx, id, err.Error())
		w.ack(ctx, msg)
	}
}

// process runs one claimed job end to end inside a private workspace.
func (w *Worker) process(ctx context.Context, id uuid.UUID, job *api.Job) error {
	workRoot := w.cfg.Worker.WorkDir
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	workDir, err := os.MkdirTemp(workRoot, "ocr-job-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.Worker.TaskTimeLimitS)*time.Second)
	defer cancel()

	pdfPath, blocks, err := w.fetchInputs(runCtx, job, workDir)
	if err != nil {
		return err
	}

	settings, err := w.store.JobSettings().Get(runCtx, id)
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		settings = &api.JobSettings{}
	}

	updater := progress.NewUpdater(w.store.Job(), id,
		time.Duration(w.cfg.Worker.DebounceIntervalS*float64(time.Second)), 0.01)

	params := pipeline.Params{
		JobID:        id,
		DocumentName: job.DocumentName,
		Engine:       job.Engine,
		Settings:     *settings,
		PDFPath:      pdfPath,
		Blocks:       blocks,
		WorkDir:      workDir,
		Checkpoint:   w.checkpoint(id),
		Progress:     updater,
	}

	outcome, err := w.pipeline.Run(runCtx, params)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("task time limit of %ds exceeded", w.cfg.Worker.TaskTimeLimitS)
		}
		return err
	}

	if err := updater.Report(runCtx, 0.95, "building artifacts"); err != nil {
		w.log.Warnw("progress report failed", "job_id", id, "error", err)
	}
	if err := w.artifacts.Build(runCtx, artifact.Input{
		Job:       job,
		Blocks:    blocks,
		Results:   outcome.Results,
		PageSizes: outcome.PageSizes,
		CropsDir:  outcome.CropsDir,
		WorkDir:   workDir,
		OnUploadStart: func(ctx context.Context) {
			if err := updater.Report(ctx, 0.98, "uploading"); err != nil {
				w.log.Warnw("progress report failed", "job_id", id, "error", err)
			}
		},
	}); err != nil {
		return err
	}

	if err := updater.Report(runCtx, 1, "done"); err != nil {
		w.log.Warnw("progress report failed", "job_id", id, "error", err)
	}
	if err := updater.Flush(runCtx); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = w.store.Job().Update(ctx, id, store.JobUpdate{
		Status:      ptr(api.JobStatusDone),
		Progress:    ptr(1.0),
		CompletedAt: &now,
	})
	return err
}

// fetchInputs downloads the source PDF and the block list. Drafts that were
// started carry an annotation instead of a blocks file; the block list is
// recovered from it.
func (w *Worker) fetchInputs(ctx context.Context, job *api.Job, workDir string) (string, []document.Block, error) {
	prefix := job.StoragePrefix
	pdfPath := filepath.Join(workDir, service.ObjectNamePDF)
	if err := w.objects.DownloadFile(ctx, prefix+"/"+service.ObjectNamePDF, pdfPath); err != nil {
		return "", nil, &transientError{fmt.Errorf("failed to download source pdf: %w", err)}
	}

	blocksKey := prefix + "/" + service.ObjectNameBlocks
	exists, err := w.objects.Exists(ctx, blocksKey)
	if err != nil {
		return "", nil, &transientError{err}
	}
	if exists {
		content, err := w.objects.DownloadText(ctx, blocksKey)
		if err != nil {
			return "", nil, &transientError{err}
		}
		blocks, err := document.ParseBlocks([]byte(content))
		if err != nil {
			return "", nil, err
		}
		return pdfPath, blocks, nil
	}

	content, err := w.objects.DownloadText(ctx, prefix+"/"+service.ObjectNameAnnotation)
	if err != nil {
		return "", nil, &transientError{fmt.Errorf("job has neither blocks nor annotation: %w", err)}
	}
	ann, err := document.ParseAnnotation([]byte(content))
	if err != nil {
		return "", nil, err
	}
	return pdfPath, ann.AllBlocks(), nil
}

// checkpoint refreshes the job row and reports pause and cancel requests.
// The pipeline calls it between pages, blocks and phases.
func (w *Worker) checkpoint(id uuid.UUID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.store.Job().Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return errJobCancelled
			}
			return err
		}
		if job.Status == api.JobStatusPaused {
			return errJobPaused
		}
		return nil
	}
}

func (w *Worker) failJob(ctx context.Context, id uuid.UUID, message string) {
	if _, err := w.store.Job().Update(ctx, id, store.JobUpdate{
		Status:       ptr(api.JobStatusError),
		ErrorMessage: &message,
	}); err != nil {
		w.log.Errorw("error transition failed", "job_id", id, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, msg *queue.Message) {
	if err := w.broker.Ack(ctx, msg.ID); err != nil {
		w.log.Errorw("ack failed", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) nack(ctx context.Context, msg *queue.Message) {
	if err := w.broker.Nack(ctx, msg.ID); err != nil {
		w.log.Errorw("nack failed", "message_id", msg.ID, "error", err)
	}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func ptr[T any](v T) *T {
	return &v
}
