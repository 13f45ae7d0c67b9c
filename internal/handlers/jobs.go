package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/service"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// bodies spill to disk.
const maxUploadMemory = 64 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseCreateForm(r, false)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	job, err := h.jobs.CreateJob(r.Context(), *form)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseCreateForm(r, true)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	job, err := h.jobs.CreateDraft(r.Context(), *form)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) parseCreateForm(r *http.Request, draft bool) (*service.CreateJobForm, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, service.NewErrInvalidInput("multipart body expected: " + err.Error())
	}

	correction, _ := strconv.ParseBool(r.FormValue("is_correction_mode"))
	form := &service.CreateJobForm{
		ClientID:     r.FormValue("client_id"),
		DocumentID:   r.FormValue("document_id"),
		DocumentName: r.FormValue("document_name"),
		TaskName:     r.FormValue("task_name"),
		Engine:       r.FormValue("engine"),
		Settings: api.JobSettings{
			TextModel:        r.FormValue("text_model"),
			TableModel:       r.FormValue("table_model"),
			ImageModel:       r.FormValue("image_model"),
			StampModel:       r.FormValue("stamp_model"),
			IsCorrectionMode: correction,
		},
	}
	if nodeID := r.FormValue("node_id"); nodeID != "" {
		if _, err := uuid.Parse(nodeID); err != nil {
			return nil, service.NewErrInvalidInput("node_id is not a valid uuid")
		}
		form.NodeID = &nodeID
	}

	pdf, pdfName, err := readFormFile(r, "pdf")
	if err != nil {
		return nil, err
	}
	form.PDF = pdf
	form.PDFName = pdfName

	if draft {
		form.Annotation, _, err = readFormFile(r, "annotation_json")
	} else {
		form.Blocks, _, err = readFormFile(r, "blocks_file")
	}
	if err != nil {
		return nil, err
	}
	return form, nil
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", service.NewErrInvalidInput("failed to read " + field + ": " + err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", service.NewErrInvalidInput("failed to read " + field + ": " + err.Error())
	}
	return data, header.Filename, nil
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context(), service.JobListFilter{
		ClientID:   r.URL.Query().Get("client_id"),
		DocumentID: r.URL.Query().Get("document_id"),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, list)
}

func (h *Handler) jobsChanges(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("since")
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("since must be an RFC 3339 timestamp"))
		return
	}
	list, err := h.jobs.JobsChanges(r.Context(), since)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, list)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) getJobDetails(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	details, err := h.jobs.GetJobDetails(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, details)
}

func (h *Handler) getResultURL(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	result, err := h.jobs.GetResultURL(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) startDraft(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("form body expected: "+err.Error()))
		return
	}
	correction, _ := strconv.ParseBool(r.FormValue("is_correction_mode"))
	job, err := h.jobs.StartDraft(r.Context(), id, api.StartJobRequest{
		Engine:           r.FormValue("engine"),
		TextModel:        r.FormValue("text_model"),
		TableModel:       r.FormValue("table_model"),
		ImageModel:       r.FormValue("image_model"),
		StampModel:       r.FormValue("stamp_model"),
		IsCorrectionMode: correction,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) patchJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	req := api.PatchJobRequest{}
	if err := r.ParseForm(); err == nil && r.FormValue("task_name") != "" {
		req.TaskName = r.FormValue("task_name")
	} else if err := render.DecodeJSON(r.Body, &req); err != nil && req.TaskName == "" {
		h.renderError(w, r, service.NewErrInvalidInput("task_name is required"))
		return
	}
	job, err := h.jobs.PatchJob(r.Context(), id, req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.jobs.PauseJob)
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.jobs.ResumeJob)
}

func (h *Handler) restartJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.jobs.RestartJob)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) (*api.Job, error)) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	job, err := fn(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.jobs.DeleteJob(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, service.NewErrInvalidInput("job id is not a valid uuid")
	}
	return id, nil
}
