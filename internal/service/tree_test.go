package service_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/corestructure/remote-ocr/internal/service"
	"github.com/corestructure/remote-ocr/internal/store"
)

var _ = Describe("tree service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		svc    *service.TreeService
		ctx    context.Context
	)

	BeforeAll(func() {
		s, gormdb = newTestStore("service_tree")
		svc = service.NewTreeService(s)
		ctx = context.Background()
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM node_files;")
		gormdb.Exec("DELETE FROM nodes;")
	})

	It("creates a root node", func() {
		node, err := svc.CreateNode(ctx, service.NodeCreateForm{Name: "contracts", Kind: "folder"})
		Expect(err).To(BeNil())
		Expect(node.Name).To(Equal("contracts"))
		Expect(node.ParentID).To(BeNil())
	})

	It("rejects a node without a name", func() {
		_, err := svc.CreateNode(ctx, service.NodeCreateForm{Kind: "folder"})
		Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
	})

	It("rejects a node under an unknown parent", func() {
		parent := uuid.New()
		_, err := svc.CreateNode(ctx, service.NodeCreateForm{ParentID: &parent, Name: "child", Kind: "folder"})
		Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
	})

	It("lists the children of a node", func() {
		parent, err := svc.CreateNode(ctx, service.NodeCreateForm{Name: "root", Kind: "folder"})
		Expect(err).To(BeNil())
		parentID := uuid.MustParse(parent.ID)

		_, err = svc.CreateNode(ctx, service.NodeCreateForm{ParentID: &parentID, Name: "child", Kind: "folder"})
		Expect(err).To(BeNil())

		children, err := svc.ListChildren(ctx, parentID)
		Expect(err).To(BeNil())
		Expect(children).To(HaveLen(1))
		Expect(children[0].Name).To(Equal("child"))
	})

	It("returns not found when listing an unknown node", func() {
		_, err := svc.ListChildren(ctx, uuid.New())
		Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
	})

	It("registers a file and refreshes it on re-registration", func() {
		node, err := svc.CreateNode(ctx, service.NodeCreateForm{Name: "results", Kind: "folder"})
		Expect(err).To(BeNil())
		nodeID := uuid.MustParse(node.ID)

		_, err = svc.RegisterFile(ctx, nodeID, service.RegisterFileForm{
			Key:      "ocr_jobs/abc/result.md",
			FileName: "result.md",
			FileSize: 5,
		})
		Expect(err).To(BeNil())

		_, err = svc.RegisterFile(ctx, nodeID, service.RegisterFileForm{
			Key:      "ocr_jobs/abc/result.md",
			FileName: "result.md",
			FileSize: 9,
		})
		Expect(err).To(BeNil())

		files, err := svc.ListFiles(ctx, nodeID)
		Expect(err).To(BeNil())
		Expect(files).To(HaveLen(1))
		Expect(files[0].FileSize).To(Equal(int64(9)))
	})

	It("rejects a file registration without a key", func() {
		node, err := svc.CreateNode(ctx, service.NodeCreateForm{Name: "results", Kind: "folder"})
		Expect(err).To(BeNil())

		_, err = svc.RegisterFile(ctx, uuid.MustParse(node.ID), service.RegisterFileForm{FileName: "x"})
		Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
	})
})
