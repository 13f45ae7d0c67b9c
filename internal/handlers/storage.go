package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/service"
)

func storageKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "*")
	if key == "" {
		return "", service.NewErrInvalidInput("object key is required")
	}
	return key, nil
}

func (h *Handler) storageExists(w http.ResponseWriter, r *http.Request) {
	key, err := storageKey(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	exists, err := h.storage.Exists(r.Context(), key)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, api.ObjectExists{Exists: exists})
}

func (h *Handler) storageDownload(w http.ResponseWriter, r *http.Request) {
	key, err := storageKey(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	url, err := h.storage.DownloadURL(r.Context(), key)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (h *Handler) storageList(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "*")
	objects, err := h.storage.List(r.Context(), prefix)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	list := make([]api.ObjectInfo, 0, len(objects))
	for _, obj := range objects {
		list = append(list, api.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	render.JSON(w, r, api.ObjectList{Objects: list})
}

func (h *Handler) storageUpload(w http.ResponseWriter, r *http.Request) {
	key, err := storageKey(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var (
		body        io.Reader = r.Body
		size                  = r.ContentLength
		contentType           = r.Header.Get("Content-Type")
	)
	// Multipart uploads carry the object in a "file" part.
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			h.renderError(w, r, service.NewErrInvalidInput("multipart body expected: "+err.Error()))
			return
		}
		f, header, errFile := r.FormFile("file")
		if errFile != nil {
			h.renderError(w, r, service.NewErrInvalidInput("multipart upload requires a file part"))
			return
		}
		defer f.Close()
		body = f
		size = header.Size
		contentType = header.Header.Get("Content-Type")
	}

	if err := h.storage.Upload(r.Context(), key, body, size, contentType); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, api.ObjectRef{Key: key})
}

func (h *Handler) storageUploadText(w http.ResponseWriter, r *http.Request) {
	req := api.UploadTextRequest{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("invalid json body: "+err.Error()))
		return
	}
	if req.Key == "" {
		h.renderError(w, r, service.NewErrInvalidInput("key is required"))
		return
	}
	if err := h.storage.UploadText(r.Context(), req.Key, req.Content); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, api.ObjectRef{Key: req.Key})
}

func (h *Handler) storageDelete(w http.ResponseWriter, r *http.Request) {
	key, err := storageKey(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.storage.Delete(r.Context(), key); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) storageDeleteBatch(w http.ResponseWriter, r *http.Request) {
	req := api.DeleteBatchRequest{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("invalid json body: "+err.Error()))
		return
	}
	if len(req.Keys) == 0 {
		h.renderError(w, r, service.NewErrInvalidInput("keys must not be empty"))
		return
	}
	if err := h.storage.DeleteBatch(r.Context(), req.Keys); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
