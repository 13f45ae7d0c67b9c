package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/ocr"
)

// runPass2 replays the manifest through a bounded worker pool. A failed
// backend call never aborts the job; the affected blocks are recorded and
// picked up by the verification round.
func (p *Pipeline) runPass2(ctx context.Context, params Params, manifest *Manifest, results *resultSet) error {
	total := manifest.Units()
	if total == 0 {
		return nil
	}

	blocksByID := make(map[string]*document.Block, len(params.Blocks))
	for i := range params.Blocks {
		blocksByID[params.Blocks[i].ID] = &params.Blocks[i]
	}

	var completed atomic.Int64
	reportDone := func(ctx context.Context) {
		done := completed.Add(1)
		frac := progressPass1End + float64(done)/float64(total)*(progressPass2End-progressPass1End)
		p.report(ctx, params, frac, fmt.Sprintf("ocr: %d/%d units", done, total))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ThreadsPerJob)
	for pi := range manifest.Pages {
		page := manifest.Pages[pi]
		for si := range page.Strips {
			strip := page.Strips[si]
			g.Go(func() error {
				if err := p.checkpoint(gctx, params); err != nil {
					return err
				}
				p.processStrip(gctx, params, strip, blocksByID, results)
				reportDone(gctx)
				return nil
			})
		}
		for ii := range page.Images {
			image := page.Images[ii]
			g.Go(func() error {
				if err := p.checkpoint(gctx, params); err != nil {
					return err
				}
				p.processImage(gctx, params, image, blocksByID, results)
				reportDone(gctx)
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Pipeline) processStrip(ctx context.Context, params Params, entry StripEntry, blocksByID map[string]*document.Block, results *resultSet) {
	members := make([]document.Block, 0, len(entry.BlockIDs))
	for _, id := range entry.BlockIDs {
		if b, ok := blocksByID[id]; ok {
			members = append(members, *b)
		}
	}
	if len(members) == 0 {
		return
	}

	pdf, err := os.ReadFile(entry.StripPath)
	if err != nil {
		p.failAll(entry.BlockIDs, "strip crop unreadable", results)
		return
	}

	prompt := ocr.BuildStripPrompt(members)
	if params.Settings.IsCorrectionMode {
		if previous := priorStripText(members); previous != "" {
			prompt = prompt.WithCorrection(previous)
		}
	}

	response, err := p.dispatcher.Recognize(ctx, params.Engine, ocr.Request{
		PDF:      pdf,
		FileName: entry.StripID + ".pdf",
		Prompt:   prompt,
		JSONMode: ocr.DetectJSONMode(prompt),
		Model:    stripModel(params.Settings, members),
	})
	if err != nil {
		p.log.Warnw("strip recognition failed", "strip_id", entry.StripID, "error", err)
		p.failAll(entry.BlockIDs, err.Error(), results)
		return
	}

	if len(members) == 1 {
		if text := ocr.StripSingleBlockMarkers(response); text != "" {
			results.put(Result{BlockID: members[0].ID, Text: text, Status: document.OcrStatusOK})
		}
		return
	}

	for id, text := range ocr.ParseBatchResponse(entry.BlockIDs, response) {
		if text != "" {
			results.put(Result{BlockID: id, Text: text, Status: document.OcrStatusOK})
		}
	}
}

func (p *Pipeline) processImage(ctx context.Context, params Params, entry ImageEntry, blocksByID map[string]*document.Block, results *resultSet) {
	block, ok := blocksByID[entry.BlockID]
	if !ok {
		return
	}

	pdf, err := os.ReadFile(entry.CropPath)
	if err != nil {
		results.put(Result{BlockID: entry.BlockID, Status: document.OcrStatusFailed, Reason: "crop unreadable"})
		return
	}

	prompt := ocr.BuildImagePrompt(block, ocr.Prompt{}, ocr.ImagePromptVars{
		DocName:        params.DocumentName,
		PageIndex:      entry.PageIndex,
		BlockID:        entry.BlockID,
		Hint:           block.Hint,
		PdfplumberText: entry.ExtractedText,
	})
	if params.Settings.IsCorrectionMode && block.OcrText != nil && *block.OcrText != "" {
		prompt = prompt.WithCorrection(*block.OcrText)
	}

	text, err := p.dispatcher.Recognize(ctx, params.Engine, ocr.Request{
		PDF:      pdf,
		FileName: entry.BlockID + ".pdf",
		Prompt:   prompt,
		JSONMode: ocr.DetectJSONMode(prompt),
		Model:    ocr.ModelFor(params.Settings, block),
	})
	if err != nil {
		p.log.Warnw("image recognition failed", "block_id", entry.BlockID, "error", err)
		results.put(Result{BlockID: entry.BlockID, Status: document.OcrStatusFailed, Reason: err.Error()})
		return
	}
	if text != "" {
		results.put(Result{BlockID: entry.BlockID, Text: text, Status: document.OcrStatusOK})
	}
}

func (p *Pipeline) failAll(blockIDs []string, reason string, results *resultSet) {
	for _, id := range blockIDs {
		results.put(Result{BlockID: id, Status: document.OcrStatusFailed, Reason: reason})
	}
}

// stripModel selects the provider model for a strip. A strip made of tables
// only uses the table model, everything else goes to the text model.
func stripModel(settings api.JobSettings, members []document.Block) string {
	allTables := true
	for i := range members {
		if members[i].BlockType != document.BlockTypeTable {
			allTables = false
			break
		}
	}
	if allTables && settings.TableModel != "" {
		return settings.TableModel
	}
	return settings.TextModel
}

// priorStripText reassembles the previous OCR text of a strip for correction
// mode, using the same marker layout the model is asked to produce.
func priorStripText(members []document.Block) string {
	if len(members) == 1 {
		if members[0].OcrText != nil {
			return *members[0].OcrText
		}
		return ""
	}

	var sb strings.Builder
	any := false
	for i := range members {
		if members[i].OcrText == nil || *members[i].OcrText == "" {
			continue
		}
		any = true
		fmt.Fprintf(&sb, "BLOCK: %s\n%s\n\n", members[i].ID, *members[i].OcrText)
	}
	if !any {
		return ""
	}
	return strings.TrimSpace(sb.String())
}
