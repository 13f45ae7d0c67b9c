package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/corestructure/remote-ocr/internal/service"
)

type createNodeRequest struct {
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
}

type registerNodeFileRequest struct {
	Key      string `json:"key"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	req := createNodeRequest{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("invalid json body: "+err.Error()))
		return
	}
	form := service.NodeCreateForm{Name: req.Name, Kind: req.Kind}
	if req.ParentID != nil {
		parentID, err := uuid.Parse(*req.ParentID)
		if err != nil {
			h.renderError(w, r, service.NewErrInvalidInput("parent_id is not a valid uuid"))
			return
		}
		form.ParentID = &parentID
	}
	node, err := h.tree.CreateNode(r.Context(), form)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, node)
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	node, err := h.tree.GetNode(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, node)
}

func (h *Handler) listChildren(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	children, err := h.tree.ListChildren(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, children)
}

func (h *Handler) listNodeFiles(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	files, err := h.tree.ListFiles(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, files)
}

func (h *Handler) registerNodeFile(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	req := registerNodeFileRequest{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput("invalid json body: "+err.Error()))
		return
	}
	file, err := h.tree.RegisterFile(r.Context(), id, service.RegisterFileForm{
		Key:      req.Key,
		FileName: req.FileName,
		FileType: req.FileType,
		FileSize: req.FileSize,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, file)
}

func nodeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, service.NewErrInvalidInput("node id is not a valid uuid")
	}
	return id, nil
}
