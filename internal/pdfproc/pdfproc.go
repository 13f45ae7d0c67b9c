// Package pdfproc wraps the pdfcpu operations behind the two-pass pipeline:
// source optimization, page splitting and region cropping. All geometry
// handed in by callers is in raster pixels at the configured render DPI;
// conversion to PDF points happens here and nowhere else.
package pdfproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/pkg/errors"

	"github.com/corestructure/remote-ocr/internal/document"
)

// PageSize carries one page's extent in PDF points and in raster pixels at
// the processor's DPI.
type PageSize struct {
	WidthPt  float64
	HeightPt float64
	WidthPx  int
	HeightPx int
}

type Processor struct {
	dpi  int
	conf *model.Configuration
}

func New(dpi int) *Processor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Processor{dpi: dpi, conf: conf}
}

// Scale is the pixel-per-point factor at the configured DPI.
func (p *Processor) Scale() float64 {
	return float64(p.dpi) / 72.0
}

// Optimize rewrites the source PDF with relaxed validation, shaking out the
// malformed structures scanners tend to produce.
func (p *Processor) Optimize(inPath, outPath string) error {
	if err := api.OptimizeFile(inPath, outPath, p.conf); err != nil {
		return errors.Wrapf(err, "failed to optimize %s", inPath)
	}
	return nil
}

func (p *Processor) PageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count pages of %s", path)
	}
	return count, nil
}

// PageSizes returns the extent of every page, in order.
func (p *Processor) PageSizes(path string) ([]PageSize, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page dimensions of %s", path)
	}

	scale := p.Scale()
	sizes := make([]PageSize, len(dims))
	for i, d := range dims {
		sizes[i] = PageSize{
			WidthPt:  d.Width,
			HeightPt: d.Height,
			WidthPx:  int(d.Width * scale),
			HeightPx: int(d.Height * scale),
		}
	}
	return sizes, nil
}

// SplitPages splits the PDF into single-page files inside outDir and returns
// their paths in page order.
func (p *Processor) SplitPages(path, outDir string) ([]string, error) {
	if err := api.SplitFile(path, outDir, 1, p.conf); err != nil {
		return nil, errors.Wrapf(err, "failed to split %s", path)
	}

	count, err := p.PageCount(path)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pages := make([]string, count)
	for i := 0; i < count; i++ {
		pagePath := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", base, i+1))
		if _, err := os.Stat(pagePath); err != nil {
			return nil, errors.Wrapf(err, "split page %d of %s missing", i+1, path)
		}
		pages[i] = pagePath
	}
	return pages, nil
}

// CropRegion writes a copy of a single-page PDF whose crop box is the given
// pixel rectangle. The rectangle uses raster coordinates with the origin at
// the top-left; PDF boxes use points with the origin at the bottom-left.
func (p *Processor) CropRegion(pagePath, outPath string, page PageSize, box document.PixelBox) error {
	scale := p.Scale()

	llx := float64(box.X1) / scale
	urx := float64(box.X2) / scale
	lly := page.HeightPt - float64(box.Y2)/scale
	ury := page.HeightPt - float64(box.Y1)/scale

	if llx < 0 {
		llx = 0
	}
	if lly < 0 {
		lly = 0
	}
	if urx > page.WidthPt {
		urx = page.WidthPt
	}
	if ury > page.HeightPt {
		ury = page.HeightPt
	}
	if urx <= llx || ury <= lly {
		return errors.Errorf("degenerate crop box for %s: [%d %d %d %d]", pagePath, box.X1, box.Y1, box.X2, box.Y2)
	}

	cropBox, err := api.Box(fmt.Sprintf("[%.2f %.2f %.2f %.2f]", llx, lly, urx, ury), types.POINTS)
	if err != nil {
		return errors.Wrap(err, "failed to build crop box")
	}

	if err := copyFile(pagePath, outPath); err != nil {
		return err
	}
	if err := api.CropFile(outPath, "", nil, cropBox, p.conf); err != nil {
		return errors.Wrapf(err, "failed to crop %s", outPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", src)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", dst)
	}
	return nil
}
