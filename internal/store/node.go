package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

type Node interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, node model.Node) (*api.Node, error)
	Get(ctx context.Context, id uuid.UUID) (*api.Node, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]api.Node, error)
	UpsertFile(ctx context.Context, file model.NodeFile) (*api.NodeFile, error)
	ListFiles(ctx context.Context, nodeID uuid.UUID) ([]api.NodeFile, error)
	DeleteFilesByKeys(ctx context.Context, keys []string) error
}

type NodeStore struct {
	db *gorm.DB
}

// Make sure we conform to Node interface
var _ Node = (*NodeStore)(nil)

func NewNode(db *gorm.DB) Node {
	return &NodeStore{db: db}
}

func (s *NodeStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Node{}, &model.NodeFile{})
}

func (s *NodeStore) Create(ctx context.Context, node model.Node) (*api.Node, error) {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if err := s.getDB(ctx).WithContext(ctx).Create(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	created := node.ToApiResource()
	return &created, nil
}

func (s *NodeStore) Get(ctx context.Context, id uuid.UUID) (*api.Node, error) {
	var node model.Node
	if err := s.getDB(ctx).WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	apiNode := node.ToApiResource()
	return &apiNode, nil
}

func (s *NodeStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]api.Node, error) {
	var nodes model.NodeList
	if err := s.getDB(ctx).WithContext(ctx).Where("parent_id = ?", parentID).Order("name").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes.ToApiResource(), nil
}

// UpsertFile publishes a result file to a node. Republishing the same key on
// the same node refreshes the row instead of duplicating it, so a re-run job
// can safely publish over its previous output.
func (s *NodeStore) UpsertFile(ctx context.Context, file model.NodeFile) (*api.NodeFile, error) {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}

	err := s.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "file_type", "file_size", "updated_at"}),
	}).Create(&file).Error
	if err != nil {
		return nil, err
	}

	stored := file.ToApiResource()
	return &stored, nil
}

func (s *NodeStore) ListFiles(ctx context.Context, nodeID uuid.UUID) ([]api.NodeFile, error) {
	var files model.NodeFileList
	if err := s.getDB(ctx).WithContext(ctx).Where("node_id = ?", nodeID).Order("file_name").Find(&files).Error; err != nil {
		return nil, err
	}
	return files.ToApiResource(), nil
}

func (s *NodeStore) DeleteFilesByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.getDB(ctx).WithContext(ctx).Unscoped().Where("key IN ?", keys).Delete(&model.NodeFile{}).Error
}

func (s *NodeStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
