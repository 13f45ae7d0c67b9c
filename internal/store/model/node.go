package model

import (
	"time"

	"github.com/google/uuid"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
)

type Node struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	ParentID  *uuid.UUID
	Name      string `gorm:"not null"`
	Kind      string `gorm:"not null"`
	CreatedAt time.Time
}

type NodeList []Node

func (n *Node) ToApiResource() api.Node {
	var parent *string
	if n.ParentID != nil {
		s := n.ParentID.String()
		parent = &s
	}
	return api.Node{
		ID:        n.ID.String(),
		ParentID:  parent,
		Name:      n.Name,
		Kind:      n.Kind,
		CreatedAt: n.CreatedAt,
	}
}

func (nl NodeList) ToApiResource() []api.Node {
	items := make([]api.Node, 0, len(nl))
	for i := range nl {
		items = append(items, nl[i].ToApiResource())
	}
	return items
}

// NodeFile records a durable result published to a document node. It carries
// no foreign key to jobs so results outlive the job rows that produced them.
type NodeFile struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	NodeID    uuid.UUID `gorm:"uniqueIndex:node_files_node_id_key,priority:1;not null"`
	Key       string    `gorm:"uniqueIndex:node_files_node_id_key,priority:2;not null"`
	FileName  string
	FileType  string
	FileSize  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NodeFileList []NodeFile

func (f *NodeFile) ToApiResource() api.NodeFile {
	return api.NodeFile{
		ID:       f.ID.String(),
		NodeID:   f.NodeID.String(),
		Key:      f.Key,
		FileName: f.FileName,
		FileType: f.FileType,
		FileSize: f.FileSize,
	}
}

func (fl NodeFileList) ToApiResource() []api.NodeFile {
	items := make([]api.NodeFile, 0, len(fl))
	for i := range fl {
		items = append(items, fl[i].ToApiResource())
	}
	return items
}
