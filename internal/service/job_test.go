package service_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/events"
	"github.com/corestructure/remote-ocr/internal/service"
	"github.com/corestructure/remote-ocr/internal/store"
)

const validBlocksJSON = `[{"id":"b1","page_index":0,"coords_px":[10,20,110,60],"block_type":"text"},
{"id":"b2","page_index":0,"coords_px":[10,80,110,160],"block_type":"table","group_id":"g1"}]`

const validAnnotationJSON = `{"format_version":2,"pdf_path":"document.pdf","pages":[
{"page_number":0,"width":800,"height":600,"blocks":[
{"id":"b1","page_index":0,"coords_px":[10,20,110,60],"block_type":"text"}]}]}`

var _ = Describe("job service", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		objects *memObjects
		broker  *memBroker
		cfg     *config.Config
		svc     *service.JobService
		ctx     context.Context
	)

	BeforeAll(func() {
		s, gormdb = newTestStore("service_job")
		ctx = context.Background()
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	BeforeEach(func() {
		objects = newMemObjects()
		broker = newMemBroker()
		cfg = &config.Config{Service: &config.ServiceConfig{
			BaseURL:      "http://localhost:8080",
			MaxQueueSize: 10,
		}}
		svc = service.NewJobService(s, objects, broker, events.NewEventProducer(&events.StdoutWriter{}), cfg)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_files;")
		gormdb.Exec("DELETE FROM job_settings;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	validForm := func() service.CreateJobForm {
		return service.CreateJobForm{
			ClientID:     "client-1",
			DocumentID:   "doc-1",
			DocumentName: "contract",
			PDF:          []byte("%PDF-1.7 fake"),
			PDFName:      "contract.pdf",
			Blocks:       []byte(validBlocksJSON),
		}
	}

	draftForm := func() service.CreateJobForm {
		form := validForm()
		form.Blocks = nil
		form.Annotation = []byte(validAnnotationJSON)
		return form
	}

	Context("create", func() {
		It("queues the job, stores the inputs and publishes it", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(api.JobStatusQueued))
			Expect(job.Engine).To(Equal("vision"))
			Expect(job.TaskName).To(Equal("contract"))
			Expect(job.StoragePrefix).To(Equal("ocr_jobs/" + job.ID))

			prefix := job.StoragePrefix
			for _, name := range []string{"document.pdf", "blocks.json"} {
				exists, err := objects.Exists(ctx, prefix+"/"+name)
				Expect(err).To(BeNil())
				Expect(exists).To(BeTrue(), name)
			}

			files, err := s.JobFile().ListByJob(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeNil())
			Expect(files).To(HaveLen(2))

			has, err := broker.HasMessage(ctx, "ocr_jobs", []byte(job.ID))
			Expect(err).To(BeNil())
			Expect(has).To(BeTrue())
		})

		It("keeps an explicit task name and engine", func() {
			form := validForm()
			form.TaskName = "quarterly scan"
			form.Engine = "segmenter"

			job, err := svc.CreateJob(ctx, form)
			Expect(err).To(BeNil())
			Expect(job.TaskName).To(Equal("quarterly scan"))
			Expect(job.Engine).To(Equal("segmenter"))
		})

		It("rejects a form without a client id", func() {
			form := validForm()
			form.ClientID = ""

			_, err := svc.CreateJob(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("rejects a form without a pdf", func() {
			form := validForm()
			form.PDF = nil

			_, err := svc.CreateJob(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("rejects a corrupted blocks file before touching storage", func() {
			form := validForm()
			form.Blocks = []byte(`[{"id":"b1","block_type":"banner"}]`)

			_, err := svc.CreateJob(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
			Expect(broker.publishedCount()).To(Equal(0))
		})

		It("rejects the job when the queue is full", func() {
			cfg.Service.MaxQueueSize = 1
			_, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			_, err = svc.CreateJob(ctx, validForm())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrQueueFull{}))
		})

		It("surfaces storage failures", func() {
			objects.failing = true

			_, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrStorageUnavailable{}))
		})

		It("surfaces broker failures after persisting", func() {
			broker.failing = true

			_, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrBrokerUnavailable{}))
		})
	})

	Context("drafts", func() {
		It("stores the annotation and does not publish", func() {
			job, err := svc.CreateDraft(ctx, draftForm())
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(api.JobStatusDraft))
			Expect(broker.publishedCount()).To(Equal(0))

			exists, err := objects.Exists(ctx, job.StoragePrefix+"/annotation.json")
			Expect(err).To(BeNil())
			Expect(exists).To(BeTrue())

			files, err := s.JobFile().ListByJob(ctx, uuid.MustParse(job.ID), api.FileTypeAnnotation)
			Expect(err).To(BeNil())
			Expect(files).To(HaveLen(1))
		})

		It("rejects a draft without an annotation", func() {
			form := draftForm()
			form.Annotation = nil

			_, err := svc.CreateDraft(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("rejects a corrupted annotation", func() {
			form := draftForm()
			form.Annotation = []byte(`{"format_version":2}`)

			_, err := svc.CreateDraft(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("starts a draft with the requested models", func() {
			draft, err := svc.CreateDraft(ctx, draftForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(draft.ID)

			job, err := svc.StartDraft(ctx, id, api.StartJobRequest{
				Engine:    "segmenter",
				TextModel: "model-a",
			})
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(api.JobStatusQueued))
			Expect(job.Engine).To(Equal("segmenter"))

			settings, err := s.JobSettings().Get(ctx, id)
			Expect(err).To(BeNil())
			Expect(settings.TextModel).To(Equal("model-a"))

			has, err := broker.HasMessage(ctx, "ocr_jobs", []byte(draft.ID))
			Expect(err).To(BeNil())
			Expect(has).To(BeTrue())
		})

		It("refuses to start a job that is not a draft", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			_, err = svc.StartDraft(ctx, uuid.MustParse(job.ID), api.StartJobRequest{})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidTransition{}))
		})
	})

	Context("lifecycle transitions", func() {
		It("pauses a queued job", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			paused, err := svc.PauseJob(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeNil())
			Expect(paused.Status).To(Equal(api.JobStatusPaused))
		})

		It("refuses to pause a draft", func() {
			job, err := svc.CreateDraft(ctx, draftForm())
			Expect(err).To(BeNil())

			_, err = svc.PauseJob(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidTransition{}))
		})

		It("resumes a paused job from scratch", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			_, err = svc.PauseJob(ctx, id)
			Expect(err).To(BeNil())

			progress := 0.6
			msg := "half way"
			_, err = s.Job().Update(ctx, id, store.JobUpdate{Progress: &progress, StatusMessage: &msg})
			Expect(err).To(BeNil())

			resumed, err := svc.ResumeJob(ctx, id)
			Expect(err).To(BeNil())
			Expect(resumed.Status).To(Equal(api.JobStatusQueued))
			Expect(resumed.Progress).To(Equal(0.0))
			Expect(broker.publishedCount()).To(Equal(2))
		})

		It("refuses to resume a job that is not paused", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			_, err = svc.ResumeJob(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidTransition{}))
		})

		It("restarts a failed job and clears the error", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			errMsg := "backend exploded"
			_, err = s.Job().Update(ctx, id, store.JobUpdate{
				Status:       ptrTo(api.JobStatusError),
				ErrorMessage: &errMsg,
			})
			Expect(err).To(BeNil())

			restarted, err := svc.RestartJob(ctx, id)
			Expect(err).To(BeNil())
			Expect(restarted.Status).To(Equal(api.JobStatusQueued))
			Expect(restarted.ErrorMessage).To(HaveValue(BeEmpty()))
			Expect(restarted.RetryCount).To(Equal(0))
		})

		It("restarts a stuck processing job", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			_, err = s.Job().Update(ctx, id, store.JobUpdate{Status: ptrTo(api.JobStatusProcessing)})
			Expect(err).To(BeNil())

			restarted, err := svc.RestartJob(ctx, id)
			Expect(err).To(BeNil())
			Expect(restarted.Status).To(Equal(api.JobStatusQueued))
		})

		It("refuses to restart a finished job", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			_, err = s.Job().Update(ctx, id, store.JobUpdate{Status: ptrTo(api.JobStatusDone)})
			Expect(err).To(BeNil())

			_, err = svc.RestartJob(ctx, id)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidTransition{}))
		})
	})

	Context("result url", func() {
		It("refuses while the job is not done", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			_, err = svc.GetResultURL(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotReady{}))
		})

		It("reports a done job with no archive", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			_, err = s.Job().Update(ctx, id, store.JobUpdate{Status: ptrTo(api.JobStatusDone)})
			Expect(err).To(BeNil())

			_, err = svc.GetResultURL(ctx, id)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrArtifactNotFound{}))
		})

		It("presigns the archive with the document name", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			key := job.StoragePrefix + "/result.zip"
			_, err = s.JobFile().Create(ctx, api.JobFile{
				JobID:    job.ID,
				FileType: api.FileTypeResultZip,
				Key:      key,
				FileName: "result.zip",
			})
			Expect(err).To(BeNil())
			_, err = s.Job().Update(ctx, id, store.JobUpdate{Status: ptrTo(api.JobStatusDone)})
			Expect(err).To(BeNil())

			result, err := svc.GetResultURL(ctx, id)
			Expect(err).To(BeNil())
			Expect(result.FileName).To(Equal("contract_result.zip"))
			Expect(result.DownloadURL).To(Equal("https://signed.example/" + key + "?filename=contract_result.zip"))
		})
	})

	Context("details", func() {
		It("assembles settings, artifacts and block statistics", func() {
			form := validForm()
			form.Settings = api.JobSettings{TextModel: "model-a"}
			job, err := svc.CreateJob(ctx, form)
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			details, err := svc.GetJobDetails(ctx, id)
			Expect(err).To(BeNil())
			Expect(details.BaseURL).To(Equal("http://localhost:8080/api/storage/download/" + job.StoragePrefix))
			Expect(details.Settings).NotTo(BeNil())
			Expect(details.Settings.TextModel).To(Equal("model-a"))
			Expect(details.Artifacts).To(HaveLen(2))
			Expect(details.BlockStats).NotTo(BeNil())
			Expect(details.BlockStats.Total).To(Equal(2))
			Expect(details.BlockStats.ByType["text"]).To(Equal(1))
			Expect(details.BlockStats.ByType["table"]).To(Equal(1))
			Expect(details.BlockStats.Grouped).To(Equal(1))
		})

		It("computes statistics for a draft from its annotation", func() {
			job, err := svc.CreateDraft(ctx, draftForm())
			Expect(err).To(BeNil())

			details, err := svc.GetJobDetails(ctx, uuid.MustParse(job.ID))
			Expect(err).To(BeNil())
			Expect(details.BlockStats).NotTo(BeNil())
			Expect(details.BlockStats.Total).To(Equal(1))
		})

		It("returns not found for an unknown job", func() {
			_, err := svc.GetJobDetails(ctx, uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})
	})

	Context("list and changes", func() {
		It("filters by client and document", func() {
			_, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			other := validForm()
			other.ClientID = "client-2"
			_, err = svc.CreateJob(ctx, other)
			Expect(err).To(BeNil())

			list, err := svc.ListJobs(ctx, service.JobListFilter{ClientID: "client-1"})
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].ClientID).To(Equal("client-1"))
		})

		It("returns only jobs changed since the given instant", func() {
			stale, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			gormdb.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", time.Now().Add(-time.Hour), stale.ID)

			fresh, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			list, err := svc.JobsChanges(ctx, time.Now().Add(-10*time.Minute))
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].ID).To(Equal(fresh.ID))
		})
	})

	Context("patch and delete", func() {
		It("renames the task", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			patched, err := svc.PatchJob(ctx, uuid.MustParse(job.ID), api.PatchJobRequest{TaskName: "renamed"})
			Expect(err).To(BeNil())
			Expect(patched.TaskName).To(Equal("renamed"))
		})

		It("rejects an empty task name", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			_, err = svc.PatchJob(ctx, uuid.MustParse(job.ID), api.PatchJobRequest{})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})

		It("deletes the job together with its objects", func() {
			job, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())
			id := uuid.MustParse(job.ID)

			Expect(svc.DeleteJob(ctx, id)).To(BeNil())

			_, err = svc.GetJob(ctx, id)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))

			exists, err := objects.Exists(ctx, job.StoragePrefix+"/document.pdf")
			Expect(err).To(BeNil())
			Expect(exists).To(BeFalse())
		})

		It("returns not found when deleting an unknown job", func() {
			err := svc.DeleteJob(ctx, uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})
	})

	Context("queue info", func() {
		It("reports the depth against the limit", func() {
			_, err := svc.CreateJob(ctx, validForm())
			Expect(err).To(BeNil())

			info, err := svc.QueueInfo(ctx)
			Expect(err).To(BeNil())
			Expect(info.Queued).To(Equal(int64(1)))
			Expect(info.Processing).To(Equal(int64(0)))
			Expect(info.Max).To(Equal(10))
		})
	})
})

func ptrTo[T any](v T) *T {
	return &v
}
