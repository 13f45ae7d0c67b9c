package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/handlers"
)

const blocksJSON = `[{"id":"b1","page_index":0,"coords_px":[10,20,110,60],"block_type":"text"}]`

const annotationJSON = `{"format_version":2,"pdf_path":"document.pdf","pages":[
{"page_number":0,"width":800,"height":600,"blocks":[
{"id":"b1","page_index":0,"coords_px":[10,20,110,60],"block_type":"text"}]}]}`

var _ = Describe("api handlers", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		env = newTestEnv("handlers_api")
	})

	AfterAll(func() {
		Expect(env.store.Close()).To(BeNil())
	})

	AfterEach(func() {
		env.gormdb.Exec("DELETE FROM node_files;")
		env.gormdb.Exec("DELETE FROM nodes;")
		env.gormdb.Exec("DELETE FROM job_files;")
		env.gormdb.Exec("DELETE FROM job_settings;")
		env.gormdb.Exec("DELETE FROM jobs;")
		env.objects.objects = map[string][]byte{}
		env.objects.failing = false
		env.broker.published = nil
		env.broker.failing = false
		env.cfg.Service.MaxQueueSize = 10
	})

	createJob := func() api.Job {
		body, contentType := multipartJobBody(map[string]string{
			"client_id":     "client-1",
			"document_id":   "doc-1",
			"document_name": "contract",
		}, []byte("%PDF-1.7 fake"), []byte(blocksJSON), nil)
		req := httptest.NewRequest(http.MethodPost, "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := env.do(req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		return decodeBody[api.Job](rec)
	}

	Context("health and queue", func() {
		It("reports health", func() {
			rec := env.get("/health")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Health](rec).OK).To(BeTrue())
		})

		It("reports the queue depth", func() {
			createJob()

			rec := env.get("/queue")
			Expect(rec.Code).To(Equal(http.StatusOK))
			info := decodeBody[api.QueueInfo](rec)
			Expect(info.Queued).To(Equal(int64(1)))
			Expect(info.Max).To(Equal(10))
		})
	})

	Context("job creation", func() {
		It("creates a queued job from a multipart form", func() {
			job := createJob()
			Expect(job.Status).To(Equal(api.JobStatusQueued))
			Expect(job.ClientID).To(Equal("client-1"))
			Expect(env.broker.published).To(HaveLen(1))
		})

		It("rejects a request without a pdf", func() {
			body, contentType := multipartJobBody(map[string]string{
				"client_id":   "client-1",
				"document_id": "doc-1",
			}, nil, []byte(blocksJSON), nil)
			req := httptest.NewRequest(http.MethodPost, "/jobs", body)
			req.Header.Set("Content-Type", contentType)

			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindInvalidInput))
		})

		It("rejects a non-multipart body", func() {
			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("{}"))
			req.Header.Set("Content-Type", "application/json")

			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a full queue onto 429", func() {
			env.cfg.Service.MaxQueueSize = 1
			createJob()

			body, contentType := multipartJobBody(map[string]string{
				"client_id":   "client-1",
				"document_id": "doc-2",
			}, []byte("%PDF"), []byte(blocksJSON), nil)
			req := httptest.NewRequest(http.MethodPost, "/jobs", body)
			req.Header.Set("Content-Type", contentType)

			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindQueueFull))
		})

		It("maps broker failures onto 503", func() {
			env.broker.failing = true

			body, contentType := multipartJobBody(map[string]string{
				"client_id":   "client-1",
				"document_id": "doc-1",
			}, []byte("%PDF"), []byte(blocksJSON), nil)
			req := httptest.NewRequest(http.MethodPost, "/jobs", body)
			req.Header.Set("Content-Type", contentType)

			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindBrokerUnavailable))
		})

		It("creates a draft", func() {
			body, contentType := multipartJobBody(map[string]string{
				"client_id":   "client-1",
				"document_id": "doc-1",
			}, []byte("%PDF"), nil, []byte(annotationJSON))
			req := httptest.NewRequest(http.MethodPost, "/jobs/draft", body)
			req.Header.Set("Content-Type", contentType)

			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).Status).To(Equal(api.JobStatusDraft))
			Expect(env.broker.published).To(BeEmpty())
		})
	})

	Context("job reads", func() {
		It("fetches a job by id", func() {
			job := createJob()

			rec := env.get("/jobs/" + job.ID)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).ID).To(Equal(job.ID))
		})

		It("rejects a malformed id", func() {
			rec := env.get("/jobs/not-a-uuid")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindInvalidInput))
		})

		It("maps an unknown job onto 404", func() {
			rec := env.get("/jobs/" + uuid.NewString())
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindNotFound))
		})

		It("lists jobs filtered by client", func() {
			createJob()

			rec := env.get("/jobs/?client_id=client-1")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.JobList](rec).Items).To(HaveLen(1))

			rec = env.get("/jobs/?client_id=client-2")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.JobList](rec).Items).To(BeEmpty())
		})

		It("requires a valid since for the changes feed", func() {
			rec := env.get("/jobs/changes?since=yesterday")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns the job details", func() {
			job := createJob()

			rec := env.get("/jobs/" + job.ID + "/details")
			Expect(rec.Code).To(Equal(http.StatusOK))
			details := decodeBody[api.JobDetails](rec)
			Expect(details.Job.ID).To(Equal(job.ID))
			Expect(details.Artifacts).To(HaveLen(2))
		})

		It("maps an unfinished result request onto not_ready", func() {
			job := createJob()

			rec := env.get("/jobs/" + job.ID + "/result")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindNotReady))
		})
	})

	Context("job lifecycle", func() {
		It("pauses and resumes over HTTP", func() {
			job := createJob()

			rec := env.do(httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/pause", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).Status).To(Equal(api.JobStatusPaused))

			rec = env.do(httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/resume", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).Status).To(Equal(api.JobStatusQueued))
		})

		It("maps an invalid transition onto 409", func() {
			job := createJob()

			rec := env.do(httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/resume", nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindInvalidTransition))
		})

		It("renames the task from a json body", func() {
			job := createJob()

			rec := env.postJSON("/jobs/"+job.ID, nil)
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))

			req := httptest.NewRequest(http.MethodPatch, "/jobs/"+job.ID, strings.NewReader(`{"task_name":"renamed"}`))
			req.Header.Set("Content-Type", "application/json")
			rec = env.do(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).TaskName).To(Equal("renamed"))
		})

		It("renames the task from a form body", func() {
			job := createJob()

			form := url.Values{"task_name": {"form renamed"}}
			req := httptest.NewRequest(http.MethodPatch, "/jobs/"+job.ID, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Job](rec).TaskName).To(Equal("form renamed"))
		})

		It("deletes a job", func() {
			job := createJob()

			rec := env.do(httptest.NewRequest(http.MethodDelete, "/jobs/"+job.ID, nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			rec = env.get("/jobs/" + job.ID)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Context("storage", func() {
		It("uploads a raw body and reads it back", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/storage/upload/misc/report.md", strings.NewReader("# hi"))
			req.Header.Set("Content-Type", "text/markdown")
			rec := env.do(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.ObjectRef](rec).Key).To(Equal("misc/report.md"))

			rec = env.get("/api/storage/exists/misc/report.md")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.ObjectExists](rec).Exists).To(BeTrue())
		})

		It("uploads text through the json endpoint", func() {
			rec := env.postJSON("/api/storage/upload-text", api.UploadTextRequest{Key: "misc/a.txt", Content: "a"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = env.get("/api/storage/list/misc/")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.ObjectList](rec).Objects).To(HaveLen(1))
		})

		It("redirects downloads to the presigned url", func() {
			rec := env.postJSON("/api/storage/upload-text", api.UploadTextRequest{Key: "misc/a.txt", Content: "a"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = env.get("/api/storage/download/misc/a.txt")
			Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
			Expect(rec.Header().Get("Location")).To(HavePrefix("https://signed.example/misc/a.txt"))
		})

		It("maps a missing download onto 404", func() {
			rec := env.get("/api/storage/download/misc/absent.txt")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("deletes objects in batch", func() {
			rec := env.postJSON("/api/storage/upload-text", api.UploadTextRequest{Key: "misc/a.txt", Content: "a"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = env.postJSON("/api/storage/delete-batch", api.DeleteBatchRequest{Keys: []string{"misc/a.txt"}})
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			rec = env.get("/api/storage/exists/misc/a.txt")
			Expect(decodeBody[api.ObjectExists](rec).Exists).To(BeFalse())
		})

		It("maps storage failures onto 503", func() {
			env.objects.failing = true

			rec := env.get("/api/storage/exists/misc/a.txt")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decodeBody[api.Error](rec).Kind).To(Equal(handlers.KindStorageUnavailable))
		})
	})

	Context("tree", func() {
		It("creates and reads nodes", func() {
			rec := env.postJSON("/api/tree/nodes/", map[string]string{"name": "contracts", "kind": "folder"})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			node := decodeBody[api.Node](rec)

			rec = env.get("/api/tree/nodes/" + node.ID)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeBody[api.Node](rec).Name).To(Equal("contracts"))

			rec = env.get("/api/tree/nodes/" + node.ID + "/children")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("registers a file on a node", func() {
			rec := env.postJSON("/api/tree/nodes/", map[string]string{"name": "results", "kind": "folder"})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			node := decodeBody[api.Node](rec)

			rec = env.postJSON("/api/tree/nodes/"+node.ID+"/files", map[string]any{
				"key":       "ocr_jobs/abc/result.md",
				"file_name": "result.md",
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec = env.get("/api/tree/nodes/" + node.ID + "/files")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("maps an unknown node onto 404", func() {
			rec := env.get("/api/tree/nodes/" + uuid.NewString())
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
