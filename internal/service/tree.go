package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

// TreeService is the pass-through surface over the document tree: node CRUD
// and node-file registration.
type TreeService struct {
	store store.Store
}

func NewTreeService(st store.Store) *TreeService {
	return &TreeService{store: st}
}

// NodeCreateForm carries the fields of a node creation request.
type NodeCreateForm struct {
	ParentID *uuid.UUID
	Name     string
	Kind     string
}

func (s *TreeService) CreateNode(ctx context.Context, form NodeCreateForm) (*api.Node, error) {
	if form.Name == "" {
		return nil, NewErrInvalidInput("name is required")
	}
	if form.Kind == "" {
		return nil, NewErrInvalidInput("kind is required")
	}
	if form.ParentID != nil {
		if _, err := s.GetNode(ctx, *form.ParentID); err != nil {
			return nil, err
		}
	}
	return s.store.Node().Create(ctx, model.Node{
		ParentID: form.ParentID,
		Name:     form.Name,
		Kind:     form.Kind,
	})
}

func (s *TreeService) GetNode(ctx context.Context, id uuid.UUID) (*api.Node, error) {
	node, err := s.store.Node().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrNodeNotFound(id)
		}
		return nil, err
	}
	return node, nil
}

func (s *TreeService) ListChildren(ctx context.Context, parentID uuid.UUID) ([]api.Node, error) {
	if _, err := s.GetNode(ctx, parentID); err != nil {
		return nil, err
	}
	return s.store.Node().ListChildren(ctx, parentID)
}

func (s *TreeService) ListFiles(ctx context.Context, nodeID uuid.UUID) ([]api.NodeFile, error) {
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return s.store.Node().ListFiles(ctx, nodeID)
}

// RegisterFileForm carries a node-file registration. Registering the same
// key on the same node twice refreshes the existing row.
type RegisterFileForm struct {
	Key      string
	FileName string
	FileType string
	FileSize int64
}

func (s *TreeService) RegisterFile(ctx context.Context, nodeID uuid.UUID, form RegisterFileForm) (*api.NodeFile, error) {
	if form.Key == "" {
		return nil, NewErrInvalidInput("key is required")
	}
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return s.store.Node().UpsertFile(ctx, model.NodeFile{
		NodeID:   nodeID,
		Key:      form.Key,
		FileName: form.FileName,
		FileType: form.FileType,
		FileSize: form.FileSize,
	})
}
