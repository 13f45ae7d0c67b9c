// Package pipeline runs the two-pass OCR pipeline for one job: pass 1 crops
// page regions to disk under a bounded memory footprint, pass 2 feeds the
// crops to the backends and collects per-block text, and a verification pass
// retries blocks the first round missed.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/ocr"
	"github.com/corestructure/remote-ocr/internal/pdfproc"
	"github.com/corestructure/remote-ocr/internal/progress"
)

// Progress share of each phase. The artifact build that follows the pipeline
// owns the remainder up to 1.
const (
	progressPass1End  = 0.15
	progressPass2End  = 0.85
	progressVerifyEnd = 0.95
)

// Result is the OCR outcome for one block.
type Result struct {
	BlockID string
	Text    string
	Status  string
	Reason  string
}

// Outcome is what the pipeline hands to the artifact builder.
type Outcome struct {
	Results map[string]Result
	Stats   document.Stats
	// PageSizes is the raster extent of every page at the render DPI, in
	// page order. Empty when the document was never opened.
	PageSizes []document.PixelBox
	// CropsDir holds the per-block crop PDFs, named by BlockCropPath.
	CropsDir string
}

// TextExtractor supplies the region text behind the {{pdfplumber_text}}
// placeholder. A nil extractor substitutes the empty string.
type TextExtractor interface {
	ExtractRegion(ctx context.Context, pagePath string, page pdfproc.PageSize, box document.PixelBox) (string, error)
}

// Params describes one job run. WorkDir must exist and be private to the job;
// the pipeline fills it with page splits, crops and the manifest.
type Params struct {
	JobID        uuid.UUID
	DocumentName string
	Engine       string
	Settings     api.JobSettings
	PDFPath      string
	Blocks       []document.Block
	WorkDir      string

	// Checkpoint is called between units of work. Returning an error aborts
	// the run; the worker uses this for pause and cancel.
	Checkpoint func(ctx context.Context) error

	Progress *progress.Updater
}

// Pipeline is safe for concurrent Run calls; each call works entirely inside
// the job's WorkDir.
type Pipeline struct {
	proc       *pdfproc.Processor
	dispatcher *ocr.Dispatcher
	cfg        *config.WorkerConfig
	extractor  TextExtractor
	log        *zap.SugaredLogger
}

func New(proc *pdfproc.Processor, dispatcher *ocr.Dispatcher, cfg *config.WorkerConfig, extractor TextExtractor) *Pipeline {
	return &Pipeline{
		proc:       proc,
		dispatcher: dispatcher,
		cfg:        cfg,
		extractor:  extractor,
		log:        zap.S().Named("pipeline"),
	}
}

// Run executes both passes and the verification round. Crop files for the
// artifact builder survive in Outcome.CropsDir; everything else under
// WorkDir is fair game for cleanup by the caller.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Outcome, error) {
	results := newResultSet()
	outcome := &Outcome{
		Stats:    document.ComputeStats(params.Blocks),
		CropsDir: filepath.Join(params.WorkDir, "crops"),
	}

	if len(params.Blocks) == 0 {
		p.log.Infow("no blocks requested, skipping OCR", "job_id", params.JobID)
		if err := os.MkdirAll(outcome.CropsDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create crops dir")
		}
		outcome.Results = results.snapshot()
		return outcome, nil
	}

	manifest, pageSizes, err := p.runPass1(ctx, params, results)
	if err != nil {
		return nil, err
	}
	outcome.PageSizes = pageSizes

	if err := p.runPass2(ctx, params, manifest, results); err != nil {
		return nil, err
	}

	if err := p.runVerification(ctx, params, results); err != nil {
		return nil, err
	}

	p.cleanupIntermediate(params.WorkDir)

	outcome.Results = results.snapshot()
	return outcome, nil
}

// cleanupIntermediate drops the strip crops and the manifest. Per-block
// crops stay for the artifact builder.
func (p *Pipeline) cleanupIntermediate(workDir string) {
	for _, name := range []string{"strips", "pages", "manifest.jsonl", "optimized.pdf"} {
		if err := os.RemoveAll(filepath.Join(workDir, name)); err != nil {
			p.log.Warnw("failed to remove intermediate", "path", name, "error", err)
		}
	}
}

func (p *Pipeline) report(ctx context.Context, params Params, value float64, message string) {
	if params.Progress == nil {
		return
	}
	if err := params.Progress.Report(ctx, value, message); err != nil {
		p.log.Warnw("failed to report progress", "job_id", params.JobID, "error", err)
	}
}

func (p *Pipeline) checkpoint(ctx context.Context, params Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params.Checkpoint == nil {
		return nil
	}
	return params.Checkpoint(ctx)
}

// BlockCropPath is the per-block crop location inside a crops directory.
// Verification and the artifact builder both resolve crops through it.
func BlockCropPath(cropsDir, blockID string) string {
	return filepath.Join(cropsDir, "block_"+blockID+".pdf")
}

// resultSet collects per-block results from concurrent workers.
type resultSet struct {
	mu sync.Mutex
	m  map[string]Result
}

func newResultSet() *resultSet {
	return &resultSet{m: make(map[string]Result)}
}

func (s *resultSet) put(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[r.BlockID] = r
}

func (s *resultSet) get(blockID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[blockID]
	return r, ok
}

func (s *resultSet) snapshot() map[string]Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Result, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
