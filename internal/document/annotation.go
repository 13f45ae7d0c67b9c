package document

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// AnnotationFormatVersion is the current annotation.json format.
const AnnotationFormatVersion = 2

// Page groups the blocks of one rendered page together with the raster size
// they were annotated against.
type Page struct {
	PageNumber int     `json:"page_number"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Blocks     []Block `json:"blocks"`
}

// Annotation is the canonical serialized document, format version 2.
type Annotation struct {
	FormatVersion int    `json:"format_version"`
	PdfPath       string `json:"pdf_path"`
	Pages         []Page `json:"pages"`
}

// ParseAnnotation reads an annotation.json payload. Version-1 files, which
// predate coords_norm and source, are upgraded in place.
func ParseAnnotation(data []byte) (*Annotation, error) {
	var ann Annotation
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, errors.Wrap(err, "failed to parse annotation")
	}
	if ann.Pages == nil {
		return nil, errors.New("annotation has no pages")
	}

	for pi := range ann.Pages {
		page := &ann.Pages[pi]
		for bi := range page.Blocks {
			b := &page.Blocks[bi]
			if b.Source == "" {
				b.Source = SourceUser
			}
			if b.ShapeType == "" {
				b.ShapeType = ShapeRectangle
			}
			if b.CoordsNorm == [4]float64{} && page.Width > 0 && page.Height > 0 {
				norm := b.PxBox().Normalize(page.Width, page.Height)
				b.CoordsNorm = [4]float64{norm.X1, norm.Y1, norm.X2, norm.Y2}
			}
		}
	}

	ann.FormatVersion = AnnotationFormatVersion
	return &ann, nil
}

// Marshal serializes the annotation with the current format version.
func (a *Annotation) Marshal() ([]byte, error) {
	a.FormatVersion = AnnotationFormatVersion
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize annotation")
	}
	return data, nil
}

// AllBlocks returns every block across all pages, in page order and
// top-to-bottom within each page.
func (a *Annotation) AllBlocks() []Block {
	var out []Block
	for pi := range a.Pages {
		page := a.Pages[pi]
		blocks := make([]Block, len(page.Blocks))
		copy(blocks, page.Blocks)
		sort.SliceStable(blocks, func(i, j int) bool {
			return blocks[i].CoordsPx[1] < blocks[j].CoordsPx[1]
		})
		out = append(out, blocks...)
	}
	return out
}

// BuildAnnotation assembles a version-2 annotation from a flat block list and
// per-page raster sizes. Blocks whose page index exceeds the page count are
// rejected.
func BuildAnnotation(pdfPath string, pageSizes []PixelBox, blocks []Block) (*Annotation, error) {
	pages := make([]Page, len(pageSizes))
	for i := range pageSizes {
		pages[i] = Page{
			PageNumber: i,
			Width:      pageSizes[i].Width(),
			Height:     pageSizes[i].Height(),
			Blocks:     []Block{},
		}
	}

	for i := range blocks {
		b := blocks[i]
		if b.PageIndex >= len(pages) {
			return nil, errors.Errorf("block %s references page %d of %d", b.ID, b.PageIndex, len(pages))
		}
		pages[b.PageIndex].Blocks = append(pages[b.PageIndex].Blocks, b)
	}

	for pi := range pages {
		sort.SliceStable(pages[pi].Blocks, func(i, j int) bool {
			return pages[pi].Blocks[i].CoordsPx[1] < pages[pi].Blocks[j].CoordsPx[1]
		})
	}

	return &Annotation{
		FormatVersion: AnnotationFormatVersion,
		PdfPath:       pdfPath,
		Pages:         pages,
	}, nil
}
