package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		ctx    context.Context
	)

	BeforeAll(func() {
		gormdb = newTestDB("store_job")
		s = store.NewStore(gormdb)
		ctx = context.Background()
		Expect(s.InitialMigration(ctx)).To(BeNil())
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_files;")
		gormdb.Exec("DELETE FROM job_settings;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	newJob := func(clientID, documentID, status string) *api.Job {
		job, err := s.Job().Create(ctx, api.Job{
			ID:         uuid.NewString(),
			ClientID:   clientID,
			DocumentID: documentID,
			Status:     status,
			Engine:     "vision",
		})
		Expect(err).To(BeNil())
		return job
	}

	Context("create and get", func() {
		It("round-trips a job", func() {
			created := newJob("client-1", "doc-1", api.JobStatusQueued)

			got, err := s.Job().Get(ctx, uuid.MustParse(created.ID))
			Expect(err).To(BeNil())
			Expect(got.ClientID).To(Equal("client-1"))
			Expect(got.DocumentID).To(Equal("doc-1"))
			Expect(got.Status).To(Equal(api.JobStatusQueued))
			Expect(got.Engine).To(Equal("vision"))
		})

		It("defaults the status to draft", func() {
			created := newJob("client-1", "doc-1", "")
			Expect(created.Status).To(Equal(api.JobStatusDraft))
		})

		It("returns not found for an unknown id", func() {
			_, err := s.Job().Get(ctx, uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("filters by client and document", func() {
			newJob("client-1", "doc-1", api.JobStatusQueued)
			newJob("client-1", "doc-2", api.JobStatusQueued)
			newJob("client-2", "doc-1", api.JobStatusQueued)

			list, err := s.Job().List(ctx, store.NewJobQueryFilter().ByClientID("client-1"), nil)
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(2))

			list, err = s.Job().List(ctx, store.NewJobQueryFilter().ByClientID("client-1").ByDocumentID("doc-2"), nil)
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(1))
		})

		It("filters by status", func() {
			newJob("client-1", "doc-1", api.JobStatusQueued)
			newJob("client-1", "doc-2", api.JobStatusDone)

			list, err := s.Job().List(ctx, store.NewJobQueryFilter().ByStatus(api.JobStatusDone), nil)
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].DocumentID).To(Equal("doc-2"))
		})

		It("returns jobs changed after a point in time", func() {
			old := newJob("client-1", "doc-1", api.JobStatusQueued)
			gormdb.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", time.Now().Add(-time.Hour), old.ID)
			fresh := newJob("client-1", "doc-2", api.JobStatusQueued)

			list, err := s.Job().List(ctx, store.NewJobQueryFilter().ChangedSince(time.Now().Add(-10*time.Minute)), nil)
			Expect(err).To(BeNil())
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].ID).To(Equal(fresh.ID))
		})
	})

	Context("update", func() {
		It("updates only the selected columns", func() {
			created := newJob("client-1", "doc-1", api.JobStatusQueued)
			id := uuid.MustParse(created.ID)

			status := api.JobStatusProcessing
			progress := 0.5
			updated, err := s.Job().Update(ctx, id, store.JobUpdate{Status: &status, Progress: &progress})
			Expect(err).To(BeNil())
			Expect(updated.Status).To(Equal(api.JobStatusProcessing))
			Expect(updated.Progress).To(Equal(0.5))
			Expect(updated.ClientID).To(Equal("client-1"))
		})

		It("returns not found for an unknown id", func() {
			status := api.JobStatusDone
			_, err := s.Job().Update(ctx, uuid.New(), store.JobUpdate{Status: &status})
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("claim", func() {
		It("claims the oldest queued job", func() {
			first := newJob("client-1", "doc-1", api.JobStatusQueued)
			gormdb.Exec("UPDATE jobs SET created_at = ? WHERE id = ?", time.Now().Add(-time.Minute), first.ID)
			newJob("client-1", "doc-2", api.JobStatusQueued)

			claimed, err := s.Job().ClaimNextQueued(ctx)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(first.ID))
			Expect(claimed.Status).To(Equal(api.JobStatusProcessing))
			Expect(claimed.StartedAt).NotTo(BeNil())
		})

		It("reports an empty queue", func() {
			newJob("client-1", "doc-1", api.JobStatusDraft)

			_, err := s.Job().ClaimNextQueued(ctx)
			Expect(err).To(MatchError(store.ErrNoQueuedJob))
		})
	})

	Context("count by status", func() {
		It("groups jobs per status", func() {
			newJob("client-1", "doc-1", api.JobStatusQueued)
			newJob("client-1", "doc-2", api.JobStatusQueued)
			newJob("client-1", "doc-3", api.JobStatusDone)

			counts, err := s.CountByStatus(ctx)
			Expect(err).To(BeNil())
			Expect(counts[api.JobStatusQueued]).To(Equal(2))
			Expect(counts[api.JobStatusDone]).To(Equal(1))
		})
	})

	Context("fail stale", func() {
		It("flips processing jobs older than the cutoff into error", func() {
			stale := newJob("client-1", "doc-1", api.JobStatusProcessing)
			gormdb.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", time.Now().Add(-2*time.Hour), stale.ID)
			newJob("client-1", "doc-2", api.JobStatusProcessing)

			swept, err := s.Job().FailStale(ctx, time.Now().Add(-time.Hour), "worker lost")
			Expect(err).To(BeNil())
			Expect(swept).To(Equal(int64(1)))

			got, err := s.Job().Get(ctx, uuid.MustParse(stale.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(api.JobStatusError))
			Expect(*got.ErrorMessage).To(Equal("worker lost"))
		})
	})

	Context("delete", func() {
		It("removes the job with its files and settings", func() {
			created := newJob("client-1", "doc-1", api.JobStatusDone)
			id := uuid.MustParse(created.ID)

			_, err := s.JobFile().Create(ctx, api.JobFile{
				JobID:    created.ID,
				FileType: api.FileTypePDF,
				Key:      "ocr_jobs/" + created.ID + "/document.pdf",
			})
			Expect(err).To(BeNil())
			_, err = s.JobSettings().Upsert(ctx, id, api.JobSettings{TextModel: "model-a"})
			Expect(err).To(BeNil())

			Expect(s.Job().Delete(ctx, id)).To(BeNil())

			_, err = s.Job().Get(ctx, id)
			Expect(err).To(MatchError(store.ErrRecordNotFound))

			files, err := s.JobFile().ListByJob(ctx, id)
			Expect(err).To(BeNil())
			Expect(files).To(BeEmpty())

			_, err = s.JobSettings().Get(ctx, id)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("is a no-op for an unknown id", func() {
			Expect(s.Job().Delete(ctx, uuid.New())).To(BeNil())
		})
	})
})
