package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/pdfproc"
)

// runPass1 optimizes and splits the source PDF, then walks the pages in
// order producing strip crops, image crops and per-block crops, so memory
// usage stays bounded by one page regardless of document size. All pages are
// split to single-page PDFs up front; each one is removed as soon as its
// crops are written.
func (p *Pipeline) runPass1(ctx context.Context, params Params, results *resultSet) (*Manifest, []document.PixelBox, error) {
	p.report(ctx, params, 0, "preparing")

	workDir := params.WorkDir
	optimizedPath := filepath.Join(workDir, "optimized.pdf")
	pagesDir := filepath.Join(workDir, "pages")
	stripsDir := filepath.Join(workDir, "strips")
	cropsDir := filepath.Join(workDir, "crops")
	for _, dir := range []string{pagesDir, stripsDir, cropsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	if err := p.proc.Optimize(params.PDFPath, optimizedPath); err != nil {
		return nil, nil, err
	}
	pageSizes, err := p.proc.PageSizes(optimizedPath)
	if err != nil {
		return nil, nil, err
	}
	pagePaths, err := p.proc.SplitPages(optimizedPath, pagesDir)
	if err != nil {
		return nil, nil, err
	}

	byPage := make(map[int][]document.Block)
	for _, b := range params.Blocks {
		if b.PageIndex >= len(pagePaths) {
			results.put(Result{
				BlockID: b.ID,
				Status:  document.OcrStatusFailed,
				Reason:  fmt.Sprintf("page %d out of range, document has %d pages", b.PageIndex, len(pagePaths)),
			})
			continue
		}
		if box := b.PxBox(); box.Width() <= 0 || box.Height() <= 0 {
			results.put(Result{BlockID: b.ID, Status: document.OcrStatusFailed, Reason: "degenerate crop box"})
			continue
		}
		byPage[b.PageIndex] = append(byPage[b.PageIndex], b)
	}

	writer, err := NewManifestWriter(filepath.Join(workDir, "manifest.jsonl"))
	if err != nil {
		return nil, nil, err
	}
	defer writer.Close()

	manifest := &Manifest{}
	for pageIndex, pagePath := range pagePaths {
		if err := p.checkpoint(ctx, params); err != nil {
			return nil, nil, err
		}

		blocks := byPage[pageIndex]
		if len(blocks) == 0 {
			removeQuiet(pagePath)
			continue
		}

		page, err := p.cropPage(ctx, pageIndex, pagePath, pageSizes[pageIndex], blocks, stripsDir, cropsDir, results)
		if err != nil {
			return nil, nil, err
		}
		if err := writer.WritePage(*page); err != nil {
			return nil, nil, err
		}
		manifest.Pages = append(manifest.Pages, *page)
		removeQuiet(pagePath)

		frac := float64(pageIndex+1) / float64(len(pagePaths)) * progressPass1End
		p.report(ctx, params, frac, fmt.Sprintf("pass1: page %d/%d", pageIndex+1, len(pagePaths)))
	}

	summary := ManifestSummary{
		TotalBlocks: len(params.Blocks),
		PdfPath:     params.PDFPath,
	}
	for i := range manifest.Pages {
		summary.TotalStrips += len(manifest.Pages[i].Strips)
		summary.TotalImages += len(manifest.Pages[i].Images)
	}
	if err := writer.WriteSummary(summary); err != nil {
		return nil, nil, err
	}
	manifest.Summary = &summary

	return manifest, pageRasters(pageSizes), nil
}

// cropPage produces one page's strip, image and per-block crops.
func (p *Pipeline) cropPage(ctx context.Context, pageIndex int, pagePath string, pageSize pdfproc.PageSize, blocks []document.Block, stripsDir, cropsDir string, results *resultSet) (*PageManifest, error) {
	page := &PageManifest{PageIndex: pageIndex, Strips: []StripEntry{}, Images: []ImageEntry{}}

	var eligible, images []document.Block
	for _, b := range blocks {
		if b.StripEligible() {
			eligible = append(eligible, b)
		} else {
			images = append(images, b)
		}
	}

	for _, strip := range BuildStrips(pageIndex, eligible, p.cfg.StripMergeGapPx, p.cfg.StripMaxHeightPx) {
		stripPath := filepath.Join(stripsDir, strip.ID+".pdf")
		if err := p.proc.CropRegion(pagePath, stripPath, pageSize, strip.Box); err != nil {
			p.log.Warnw("strip crop failed", "strip_id", strip.ID, "error", err)
			for _, id := range strip.BlockIDs() {
				results.put(Result{BlockID: id, Status: document.OcrStatusFailed, Reason: "strip crop failed"})
			}
			continue
		}
		page.Strips = append(page.Strips, StripEntry{
			StripID:   strip.ID,
			StripPath: stripPath,
			PageIndex: pageIndex,
			BlockIDs:  strip.BlockIDs(),
			Box:       [4]int{strip.Box.X1, strip.Box.Y1, strip.Box.X2, strip.Box.Y2},
		})
	}

	for i := range images {
		b := images[i]
		box := b.PxBox()
		cropPath := BlockCropPath(cropsDir, b.ID)
		if err := p.proc.CropRegion(pagePath, cropPath, pageSize, box); err != nil {
			p.log.Warnw("image crop failed", "block_id", b.ID, "error", err)
			results.put(Result{BlockID: b.ID, Status: document.OcrStatusFailed, Reason: "crop failed"})
			continue
		}

		entry := ImageEntry{
			BlockID:   b.ID,
			CropPath:  cropPath,
			BlockType: b.BlockType,
			PageIndex: pageIndex,
			Width:     box.Width(),
			Height:    box.Height(),
		}
		if p.extractor != nil {
			text, err := p.extractor.ExtractRegion(ctx, pagePath, pageSize, box)
			if err != nil {
				p.log.Warnw("region text extraction failed", "block_id", b.ID, "error", err)
			} else {
				entry.ExtractedText = text
			}
		}
		page.Images = append(page.Images, entry)
	}

	// per-block crops for strip members, used by verification and archived
	// with the artifacts
	for _, b := range eligible {
		cropPath := BlockCropPath(cropsDir, b.ID)
		if err := p.proc.CropRegion(pagePath, cropPath, pageSize, b.PxBox()); err != nil {
			p.log.Warnw("block crop failed", "block_id", b.ID, "error", err)
		}
	}

	return page, nil
}

// pageRasters converts the page sizes to raster rectangles.
func pageRasters(sizes []pdfproc.PageSize) []document.PixelBox {
	out := make([]document.PixelBox, len(sizes))
	for i, s := range sizes {
		out[i] = document.PixelBox{X2: s.WidthPx, Y2: s.HeightPx}
	}
	return out
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
