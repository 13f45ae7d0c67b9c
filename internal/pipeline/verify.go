package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/ocr"
)

// runVerification retries blocks that came out of pass 2 empty or failed,
// one single-block call per miss against the block's own crop. The round
// itself runs once; whatever still fails is final.
func (p *Pipeline) runVerification(ctx context.Context, params Params, results *resultSet) error {
	cropsDir := filepath.Join(params.WorkDir, "crops")

	var missing []document.Block
	for i := range params.Blocks {
		r, ok := results.get(params.Blocks[i].ID)
		if !ok || r.Status == document.OcrStatusFailed || r.Text == "" {
			missing = append(missing, params.Blocks[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}

	p.log.Infow("verifying missed blocks", "job_id", params.JobID, "count", len(missing))
	p.report(ctx, params, progressPass2End, "verifying missed blocks")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ThreadsPerJob)
	for i := range missing {
		block := missing[i]
		g.Go(func() error {
			if err := p.checkpoint(gctx, params); err != nil {
				return err
			}
			p.verifyBlock(gctx, params, block, cropsDir, results)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.report(ctx, params, progressVerifyEnd, "verifying missed blocks")
	return nil
}

func (p *Pipeline) verifyBlock(ctx context.Context, params Params, block document.Block, cropsDir string, results *resultSet) {
	prior, _ := results.get(block.ID)

	pdf, err := os.ReadFile(BlockCropPath(cropsDir, block.ID))
	if err != nil {
		reason := prior.Reason
		if reason == "" {
			reason = "crop unavailable"
		}
		results.put(Result{BlockID: block.ID, Status: document.OcrStatusFailed, Reason: reason})
		return
	}

	var prompt ocr.Prompt
	if block.BlockType == document.BlockTypeImage {
		prompt = ocr.BuildImagePrompt(&block, ocr.Prompt{}, ocr.ImagePromptVars{
			DocName:   params.DocumentName,
			PageIndex: block.PageIndex,
			BlockID:   block.ID,
			Hint:      block.Hint,
		})
	} else {
		prompt = ocr.BuildStripPrompt([]document.Block{block})
	}

	text, err := p.dispatcher.Recognize(ctx, params.Engine, ocr.Request{
		PDF:      pdf,
		FileName: block.ID + ".pdf",
		Prompt:   prompt,
		JSONMode: ocr.DetectJSONMode(prompt),
		Model:    ocr.ModelFor(params.Settings, &block),
	})
	if err != nil {
		p.log.Warnw("verification call failed", "block_id", block.ID, "error", err)
		results.put(Result{BlockID: block.ID, Status: document.OcrStatusFailed, Reason: err.Error()})
		return
	}
	if block.BlockType != document.BlockTypeImage {
		text = ocr.StripSingleBlockMarkers(text)
	}
	if text == "" {
		results.put(Result{BlockID: block.ID, Status: document.OcrStatusFailed, Reason: "empty recognition result"})
		return
	}
	results.put(Result{BlockID: block.ID, Text: text, Status: document.OcrStatusRetriedOK})
}
