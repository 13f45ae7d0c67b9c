// Package artifact assembles and publishes the result files of a finished
// OCR run: result.md, annotation.json, ocr.html, result.json, result.zip and
// the per-block crop PDFs. Publication is idempotent; re-running a job
// overwrites the same object keys and upserts the same rows.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/pipeline"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/internal/store/model"
)

// Artifact object names under the job's storage prefix.
const (
	NameResultMD   = "result.md"
	NameAnnotation = "annotation.json"
	NameOcrHTML    = "ocr.html"
	NameResultJSON = "result.json"
	NameResultZip  = "result.zip"
	cropsSubdir    = "crops"
)

// Input is everything the builder needs from a completed pipeline run.
type Input struct {
	Job       *api.Job
	Blocks    []document.Block
	Results   map[string]pipeline.Result
	PageSizes []document.PixelBox
	CropsDir  string
	WorkDir   string

	// OnUploadStart, when set, is called once after the artifacts are
	// assembled locally and before the first upload.
	OnUploadStart func(ctx context.Context)
}

type Builder struct {
	objects objstore.Store
	files   store.JobFile
	nodes   store.Node
	log     *zap.SugaredLogger
}

func NewBuilder(objects objstore.Store, files store.JobFile, nodes store.Node) *Builder {
	return &Builder{
		objects: objects,
		files:   files,
		nodes:   nodes,
		log:     zap.S().Named("artifact"),
	}
}

// Build merges the OCR results into the document, writes every artifact and
// registers it. Crops of stamp blocks stay local, matching what clients
// expect to find in the published set.
func (b *Builder) Build(ctx context.Context, in Input) error {
	merged := mergeResults(in.Blocks, in.Results)

	ann, err := document.BuildAnnotation(in.Job.DocumentName, in.PageSizes, merged)
	if err != nil {
		return err
	}
	annData, err := ann.Marshal()
	if err != nil {
		return err
	}

	md := GenerateMarkdown(in.Job.DocumentName, ann)
	html := GenerateHTML(in.Job.DocumentName, ann)
	resultJSON, err := buildResultJSON(in.Job, ann)
	if err != nil {
		return err
	}

	cropFiles, err := b.collectCrops(in, merged)
	if err != nil {
		return err
	}

	zipPath, err := writeZip(in.WorkDir, map[string][]byte{
		NameResultMD:   md,
		NameAnnotation: annData,
		NameOcrHTML:    html,
		NameResultJSON: resultJSON,
	}, cropFiles)
	if err != nil {
		return err
	}

	if in.OnUploadStart != nil {
		in.OnUploadStart(ctx)
	}

	prefix := strings.TrimSuffix(in.Job.StoragePrefix, "/")
	texts := []struct {
		name     string
		fileType string
		data     []byte
	}{
		{NameResultMD, api.FileTypeResultMD, md},
		{NameAnnotation, api.FileTypeAnnotation, annData},
		{NameOcrHTML, api.FileTypeOcrHTML, html},
		{NameResultJSON, api.FileTypeResultJSON, resultJSON},
	}
	for _, t := range texts {
		key := prefix + "/" + t.name
		if err := b.objects.UploadText(ctx, key, string(t.data)); err != nil {
			return err
		}
		if err := b.register(ctx, in.Job, t.fileType, key, t.name, int64(len(t.data)), nil); err != nil {
			return err
		}
	}

	zipInfo, err := os.Stat(zipPath)
	if err != nil {
		return errors.Wrap(err, "failed to stat result archive")
	}
	zipKey := prefix + "/" + NameResultZip
	if err := b.objects.UploadFile(ctx, zipKey, zipPath, "application/zip"); err != nil {
		return err
	}
	if err := b.register(ctx, in.Job, api.FileTypeResultZip, zipKey, NameResultZip, zipInfo.Size(), nil); err != nil {
		return err
	}

	for _, crop := range cropFiles {
		key := prefix + "/" + cropsSubdir + "/" + crop.name
		if err := b.objects.UploadFile(ctx, key, crop.path, "application/pdf"); err != nil {
			return err
		}
		if err := b.register(ctx, in.Job, api.FileTypeCrop, key, crop.name, crop.size, crop.metadata); err != nil {
			return err
		}
	}

	b.log.Infow("artifacts published",
		"job_id", in.Job.ID, "prefix", prefix, "crops", len(cropFiles))
	return nil
}

// register upserts the JobFile row and, when the job is attached to a tree
// node, the NodeFile row. NodeFiles deliberately carry no job reference so
// deleting the job leaves them in place.
func (b *Builder) register(ctx context.Context, job *api.Job, fileType, key, fileName string, size int64, metadata map[string]string) error {
	_, err := b.files.Create(ctx, api.JobFile{
		JobID:    job.ID,
		FileType: fileType,
		Key:      key,
		FileName: fileName,
		FileSize: size,
		Metadata: metadata,
	})
	if err != nil {
		return err
	}

	if job.NodeID == nil {
		return nil
	}
	nodeID, err := uuid.Parse(*job.NodeID)
	if err != nil {
		return errors.Wrapf(err, "job %s has malformed node id", job.ID)
	}
	_, err = b.nodes.UpsertFile(ctx, model.NodeFile{
		NodeID:   nodeID,
		Key:      key,
		FileName: fileName,
		FileType: fileType,
		FileSize: size,
	})
	return err
}

type cropFile struct {
	name     string
	path     string
	size     int64
	metadata map[string]string
}

// collectCrops gathers the per-block crops worth publishing. Stamp blocks
// and blocks whose crop never materialized are skipped.
func (b *Builder) collectCrops(in Input, blocks []document.Block) ([]cropFile, error) {
	var out []cropFile
	for i := range blocks {
		blk := &blocks[i]
		if blk.CategoryCode == "stamp" {
			continue
		}
		cropPath := pipeline.BlockCropPath(in.CropsDir, blk.ID)
		info, err := os.Stat(cropPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to stat crop of block %s", blk.ID)
		}

		norm := blk.NormalizedBox()
		out = append(out, cropFile{
			name: path.Base(cropPath),
			path: cropPath,
			size: info.Size(),
			metadata: map[string]string{
				"block_id":    blk.ID,
				"block_type":  blk.BlockType,
				"page_index":  fmt.Sprintf("%d", blk.PageIndex),
				"coords_norm": fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", norm.X1, norm.Y1, norm.X2, norm.Y2),
			},
		})
	}
	return out, nil
}

// mergeResults copies the OCR outcome into the input blocks, preserving the
// caller's block order.
func mergeResults(blocks []document.Block, results map[string]pipeline.Result) []document.Block {
	merged := make([]document.Block, len(blocks))
	copy(merged, blocks)
	for i := range merged {
		r, ok := results[merged[i].ID]
		if !ok {
			continue
		}
		if r.Text != "" {
			text := r.Text
			merged[i].OcrText = &text
		}
		merged[i].OcrStatus = r.Status
	}
	return merged
}

type resultBlock struct {
	ID        string  `json:"id"`
	BlockType string  `json:"block_type"`
	PageIndex int     `json:"page_index"`
	OcrText   *string `json:"ocr_text,omitempty"`
	OcrStatus string  `json:"ocr_status,omitempty"`
	CropKey   string  `json:"crop_key,omitempty"`
}

// buildResultJSON is the machine-readable companion of result.md: the
// annotation plus a flat block list with object keys for the crops.
func buildResultJSON(job *api.Job, ann *document.Annotation) ([]byte, error) {
	prefix := strings.TrimSuffix(job.StoragePrefix, "/")

	flat := []resultBlock{}
	for _, blk := range ann.AllBlocks() {
		rb := resultBlock{
			ID:        blk.ID,
			BlockType: blk.BlockType,
			PageIndex: blk.PageIndex,
			OcrText:   blk.OcrText,
			OcrStatus: blk.OcrStatus,
		}
		if blk.CategoryCode != "stamp" {
			rb.CropKey = prefix + "/" + cropsSubdir + "/block_" + blk.ID + ".pdf"
		}
		flat = append(flat, rb)
	}

	payload := struct {
		JobID        string               `json:"job_id"`
		DocumentName string               `json:"document_name"`
		Annotation   *document.Annotation `json:"annotation"`
		Blocks       []resultBlock        `json:"blocks"`
	}{
		JobID:        job.ID,
		DocumentName: job.DocumentName,
		Annotation:   ann,
		Blocks:       flat,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize result.json")
	}
	return data, nil
}
