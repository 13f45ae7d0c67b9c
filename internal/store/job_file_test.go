package store_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store"
)

var _ = Describe("job file store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		ctx    context.Context
		jobID  uuid.UUID
	)

	BeforeAll(func() {
		gormdb = newTestDB("store_job_file")
		s = store.NewStore(gormdb)
		ctx = context.Background()
		Expect(s.InitialMigration(ctx)).To(BeNil())
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	BeforeEach(func() {
		job, err := s.Job().Create(ctx, api.Job{
			ID:         uuid.NewString(),
			ClientID:   "client-1",
			DocumentID: "doc-1",
			Status:     api.JobStatusQueued,
		})
		Expect(err).To(BeNil())
		jobID = uuid.MustParse(job.ID)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_files;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	It("registers and fetches a file by key", func() {
		created, err := s.JobFile().Create(ctx, api.JobFile{
			JobID:    jobID.String(),
			FileType: api.FileTypePDF,
			Key:      "ocr_jobs/" + jobID.String() + "/document.pdf",
			FileName: "contract.pdf",
			FileSize: 1024,
		})
		Expect(err).To(BeNil())
		Expect(created.ID).NotTo(BeEmpty())

		got, err := s.JobFile().GetByKey(ctx, created.Key)
		Expect(err).To(BeNil())
		Expect(got.FileName).To(Equal("contract.pdf"))
		Expect(got.FileSize).To(Equal(int64(1024)))
	})

	It("overwrites name and size when the key is registered twice", func() {
		key := "ocr_jobs/" + jobID.String() + "/result.zip"
		_, err := s.JobFile().Create(ctx, api.JobFile{
			JobID:    jobID.String(),
			FileType: api.FileTypeResultZip,
			Key:      key,
			FileName: "result.zip",
			FileSize: 10,
		})
		Expect(err).To(BeNil())

		_, err = s.JobFile().Create(ctx, api.JobFile{
			JobID:    jobID.String(),
			FileType: api.FileTypeResultZip,
			Key:      key,
			FileName: "result.zip",
			FileSize: 20,
		})
		Expect(err).To(BeNil())

		files, err := s.JobFile().ListByJob(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(files).To(HaveLen(1))
		Expect(files[0].FileSize).To(Equal(int64(20)))
	})

	It("lists by job filtered on file type", func() {
		for _, ft := range []string{api.FileTypePDF, api.FileTypeBlocks, api.FileTypeResultMD} {
			_, err := s.JobFile().Create(ctx, api.JobFile{
				JobID:    jobID.String(),
				FileType: ft,
				Key:      "ocr_jobs/" + jobID.String() + "/" + ft,
			})
			Expect(err).To(BeNil())
		}

		files, err := s.JobFile().ListByJob(ctx, jobID, api.FileTypePDF, api.FileTypeBlocks)
		Expect(err).To(BeNil())
		Expect(files).To(HaveLen(2))

		all, err := s.JobFile().ListByJob(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(all).To(HaveLen(3))
	})

	It("deletes rows by key", func() {
		key := "ocr_jobs/" + jobID.String() + "/blocks.json"
		_, err := s.JobFile().Create(ctx, api.JobFile{
			JobID:    jobID.String(),
			FileType: api.FileTypeBlocks,
			Key:      key,
		})
		Expect(err).To(BeNil())

		Expect(s.JobFile().DeleteByKeys(ctx, []string{key})).To(BeNil())

		_, err = s.JobFile().GetByKey(ctx, key)
		Expect(err).To(MatchError(store.ErrRecordNotFound))
	})
})
