package store_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

var _ = Describe("node store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		ctx    context.Context
	)

	BeforeAll(func() {
		gormdb = newTestDB("store_node")
		s = store.NewStore(gormdb)
		ctx = context.Background()
		Expect(s.InitialMigration(ctx)).To(BeNil())
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM node_files;")
		gormdb.Exec("DELETE FROM nodes;")
	})

	It("creates and fetches a node", func() {
		created, err := s.Node().Create(ctx, model.Node{Name: "contracts", Kind: "folder"})
		Expect(err).To(BeNil())

		got, err := s.Node().Get(ctx, uuid.MustParse(created.ID))
		Expect(err).To(BeNil())
		Expect(got.Name).To(Equal("contracts"))
		Expect(got.Kind).To(Equal("folder"))
		Expect(got.ParentID).To(BeNil())
	})

	It("lists children sorted by name", func() {
		parent, err := s.Node().Create(ctx, model.Node{Name: "root", Kind: "folder"})
		Expect(err).To(BeNil())
		parentID := uuid.MustParse(parent.ID)

		for _, name := range []string{"zeta", "alpha"} {
			_, err := s.Node().Create(ctx, model.Node{ParentID: &parentID, Name: name, Kind: "folder"})
			Expect(err).To(BeNil())
		}

		children, err := s.Node().ListChildren(ctx, parentID)
		Expect(err).To(BeNil())
		Expect(children).To(HaveLen(2))
		Expect(children[0].Name).To(Equal("alpha"))
		Expect(children[1].Name).To(Equal("zeta"))
	})

	It("refreshes a file row when the same key is published again", func() {
		node, err := s.Node().Create(ctx, model.Node{Name: "results", Kind: "folder"})
		Expect(err).To(BeNil())
		nodeID := uuid.MustParse(node.ID)

		_, err = s.Node().UpsertFile(ctx, model.NodeFile{
			NodeID:   nodeID,
			Key:      "ocr_jobs/abc/result.md",
			FileName: "result.md",
			FileSize: 5,
		})
		Expect(err).To(BeNil())

		_, err = s.Node().UpsertFile(ctx, model.NodeFile{
			NodeID:   nodeID,
			Key:      "ocr_jobs/abc/result.md",
			FileName: "result.md",
			FileSize: 9,
		})
		Expect(err).To(BeNil())

		files, err := s.Node().ListFiles(ctx, nodeID)
		Expect(err).To(BeNil())
		Expect(files).To(HaveLen(1))
		Expect(files[0].FileSize).To(Equal(int64(9)))
	})

	It("deletes file rows by key", func() {
		node, err := s.Node().Create(ctx, model.Node{Name: "results", Kind: "folder"})
		Expect(err).To(BeNil())
		nodeID := uuid.MustParse(node.ID)

		_, err = s.Node().UpsertFile(ctx, model.NodeFile{NodeID: nodeID, Key: "k1", FileName: "a"})
		Expect(err).To(BeNil())
		_, err = s.Node().UpsertFile(ctx, model.NodeFile{NodeID: nodeID, Key: "k2", FileName: "b"})
		Expect(err).To(BeNil())

		Expect(s.Node().DeleteFilesByKeys(ctx, []string{"k1"})).To(BeNil())

		files, err := s.Node().ListFiles(ctx, nodeID)
		Expect(err).To(BeNil())
		Expect(files).To(HaveLen(1))
		Expect(files[0].Key).To(Equal("k2"))
	})
})
