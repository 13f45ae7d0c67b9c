// Package handlers exposes the service layer over HTTP. Routing uses chi,
// responses render as JSON, and service errors map onto stable error kinds.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/service"
)

// Wire error kinds.
const (
	KindInvalidInput       = "invalid_input"
	KindUnauthorized       = "unauthorized"
	KindNotFound           = "not_found"
	KindInvalidTransition  = "invalid_transition"
	KindQueueFull          = "queue_full"
	KindNotReady           = "not_ready"
	KindStorageUnavailable = "storage_unavailable"
	KindBrokerUnavailable  = "broker_unavailable"
	KindInternal           = "internal"
)

type Handler struct {
	jobs    *service.JobService
	storage *service.StorageService
	tree    *service.TreeService
	log     *zap.SugaredLogger
}

func New(jobs *service.JobService, storage *service.StorageService, tree *service.TreeService) *Handler {
	return &Handler{
		jobs:    jobs,
		storage: storage,
		tree:    tree,
		log:     zap.S().Named("handlers"),
	}
}

// Register mounts every route on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/queue", h.queueInfo)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.createJob)
		r.Post("/draft", h.createDraft)
		r.Get("/", h.listJobs)
		r.Get("/changes", h.jobsChanges)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Get("/details", h.getJobDetails)
			r.Get("/result", h.getResultURL)
			r.Patch("/", h.patchJob)
			r.Delete("/", h.deleteJob)
			r.Post("/start", h.startDraft)
			r.Post("/pause", h.pauseJob)
			r.Post("/resume", h.resumeJob)
			r.Post("/restart", h.restartJob)
		})
	})

	r.Route("/api/storage", func(r chi.Router) {
		r.Get("/exists/*", h.storageExists)
		r.Get("/download/*", h.storageDownload)
		r.Get("/list/*", h.storageList)
		r.Post("/upload/*", h.storageUpload)
		r.Post("/upload-text", h.storageUploadText)
		r.Delete("/delete/*", h.storageDelete)
		r.Post("/delete-batch", h.storageDeleteBatch)
	})

	r.Route("/api/tree/nodes", func(r chi.Router) {
		r.Post("/", h.createNode)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getNode)
			r.Get("/children", h.listChildren)
			r.Get("/files", h.listNodeFiles)
			r.Post("/files", h.registerNodeFile)
		})
	})
}

// renderError maps a service error onto its HTTP status and wire kind.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := KindInternal

	var (
		invalidInput *service.ErrInvalidInput
		notFound     *service.ErrResourceNotFound
		artMissing   *service.ErrArtifactNotFound
		transition   *service.ErrInvalidTransition
		queueFull    *service.ErrQueueFull
		notReady     *service.ErrNotReady
		storage      *service.ErrStorageUnavailable
		broker       *service.ErrBrokerUnavailable
	)
	switch {
	case errors.As(err, &invalidInput):
		status, kind = http.StatusBadRequest, KindInvalidInput
	case errors.As(err, &notFound):
		status, kind = http.StatusNotFound, KindNotFound
	case errors.As(err, &artMissing):
		status, kind = http.StatusNotFound, KindNotFound
	case errors.As(err, &transition):
		status, kind = http.StatusConflict, KindInvalidTransition
	case errors.As(err, &queueFull):
		status, kind = http.StatusTooManyRequests, KindQueueFull
	case errors.As(err, &notReady):
		status, kind = http.StatusBadRequest, KindNotReady
	case errors.As(err, &storage):
		status, kind = http.StatusServiceUnavailable, KindStorageUnavailable
	case errors.As(err, &broker):
		status, kind = http.StatusServiceUnavailable, KindBrokerUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, api.Error{Kind: kind, Message: err.Error()})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.Health{OK: true})
}

func (h *Handler) queueInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.jobs.QueueInfo(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}
