package service_test

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/service"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

var _ = Describe("storage service", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		objects *memObjects
		svc     *service.StorageService
		ctx     context.Context
	)

	BeforeAll(func() {
		s, gormdb = newTestStore("service_storage")
		ctx = context.Background()
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	BeforeEach(func() {
		objects = newMemObjects()
		svc = service.NewStorageService(objects, s)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM node_files;")
		gormdb.Exec("DELETE FROM nodes;")
		gormdb.Exec("DELETE FROM job_files;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	It("uploads and reports existence", func() {
		data := []byte("hello")
		Expect(svc.Upload(ctx, "misc/greeting.txt", bytes.NewReader(data), int64(len(data)), "text/plain")).To(BeNil())

		ok, err := svc.Exists(ctx, "misc/greeting.txt")
		Expect(err).To(BeNil())
		Expect(ok).To(BeTrue())

		ok, err = svc.Exists(ctx, "misc/other.txt")
		Expect(err).To(BeNil())
		Expect(ok).To(BeFalse())
	})

	It("rejects an upload without a key", func() {
		err := svc.Upload(ctx, "", bytes.NewReader(nil), 0, "text/plain")
		Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
	})

	It("presigns a download with the object base name", func() {
		Expect(svc.UploadText(ctx, "misc/report.md", "# report")).To(BeNil())

		url, err := svc.DownloadURL(ctx, "misc/report.md")
		Expect(err).To(BeNil())
		Expect(url).To(Equal("https://signed.example/misc/report.md?filename=report.md"))
	})

	It("returns not found for a missing object", func() {
		_, err := svc.DownloadURL(ctx, "misc/absent.md")
		Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
	})

	It("lists objects under a prefix", func() {
		Expect(svc.UploadText(ctx, "misc/a.txt", "a")).To(BeNil())
		Expect(svc.UploadText(ctx, "misc/b.txt", "b")).To(BeNil())
		Expect(svc.UploadText(ctx, "other/c.txt", "c")).To(BeNil())

		infos, err := svc.List(ctx, "misc/")
		Expect(err).To(BeNil())
		Expect(infos).To(HaveLen(2))
	})

	It("drops file rows together with the objects", func() {
		job, err := s.Job().Create(ctx, api.Job{
			ID:       uuid.NewString(),
			ClientID: "client-1", DocumentID: "doc-1",
			Status: api.JobStatusDone,
		})
		Expect(err).To(BeNil())
		jobID := uuid.MustParse(job.ID)

		key := "ocr_jobs/" + job.ID + "/result.md"
		_, err = s.JobFile().Create(ctx, api.JobFile{JobID: job.ID, FileType: api.FileTypeResultMD, Key: key})
		Expect(err).To(BeNil())

		node, err := s.Node().Create(ctx, model.Node{Name: "results", Kind: "folder"})
		Expect(err).To(BeNil())
		nodeID := uuid.MustParse(node.ID)
		_, err = s.Node().UpsertFile(ctx, model.NodeFile{NodeID: nodeID, Key: key, FileName: "result.md"})
		Expect(err).To(BeNil())

		Expect(svc.UploadText(ctx, key, "# result")).To(BeNil())
		Expect(svc.Delete(ctx, key)).To(BeNil())

		ok, err := svc.Exists(ctx, key)
		Expect(err).To(BeNil())
		Expect(ok).To(BeFalse())

		files, err := s.JobFile().ListByJob(ctx, jobID)
		Expect(err).To(BeNil())
		Expect(files).To(BeEmpty())

		nodeFiles, err := s.Node().ListFiles(ctx, nodeID)
		Expect(err).To(BeNil())
		Expect(nodeFiles).To(BeEmpty())
	})

	It("surfaces storage failures", func() {
		objects.failing = true

		_, err := svc.Exists(ctx, "misc/a.txt")
		Expect(err).To(BeAssignableToTypeOf(&service.ErrStorageUnavailable{}))

		err = svc.DeleteBatch(ctx, []string{"misc/a.txt"})
		Expect(err).To(BeAssignableToTypeOf(&service.ErrStorageUnavailable{}))
	})
})
