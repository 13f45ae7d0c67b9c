// Package document models the annotated PDF: blocks, pages and the versioned
// annotation file exchanged with clients.
package document

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Block types.
const (
	BlockTypeText  = "text"
	BlockTypeTable = "table"
	BlockTypeImage = "image"
)

// Block shapes.
const (
	ShapeRectangle = "rectangle"
	ShapePolygon   = "polygon"
)

// Block sources.
const (
	SourceUser = "user"
	SourceAuto = "auto"
)

// OCR outcome markers stored per block in the final annotation.
const (
	OcrStatusOK        = "ok"
	OcrStatusRetriedOK = "retried-ok"
	OcrStatusFailed    = "failed"
)

// PixelBox is a rectangle on the rendered page raster, x1,y1 top-left.
type PixelBox struct {
	X1, Y1, X2, Y2 int
}

// NormBox is a rectangle in normalized page coordinates, each value in [0,1].
type NormBox struct {
	X1, Y1, X2, Y2 float64
}

func (b PixelBox) Width() int  { return b.X2 - b.X1 }
func (b PixelBox) Height() int { return b.Y2 - b.Y1 }

// Normalize converts the pixel box to normalized coordinates against the
// raster size.
func (b PixelBox) Normalize(pageWidth, pageHeight int) NormBox {
	return NormBox{
		X1: float64(b.X1) / float64(pageWidth),
		Y1: float64(b.Y1) / float64(pageHeight),
		X2: float64(b.X2) / float64(pageWidth),
		Y2: float64(b.Y2) / float64(pageHeight),
	}
}

// ToPixels converts the normalized box to raster pixels.
func (b NormBox) ToPixels(pageWidth, pageHeight int) PixelBox {
	return PixelBox{
		X1: int(b.X1 * float64(pageWidth)),
		Y1: int(b.Y1 * float64(pageHeight)),
		X2: int(b.X2 * float64(pageWidth)),
		Y2: int(b.Y2 * float64(pageHeight)),
	}
}

// Block is one annotated region on a page. The core never mutates the
// geometry fields of a block it received; OCR results land in OcrText and
// OcrStatus.
type Block struct {
	ID            string      `json:"id"`
	PageIndex     int         `json:"page_index"`
	CoordsPx      [4]int      `json:"coords_px"`
	CoordsNorm    [4]float64  `json:"coords_norm"`
	BlockType     string      `json:"block_type"`
	Source        string      `json:"source,omitempty"`
	ShapeType     string      `json:"shape_type,omitempty"`
	PolygonPoints [][2]int    `json:"polygon_points,omitempty"`
	Hint          string      `json:"hint,omitempty"`
	CategoryCode  string      `json:"category_code,omitempty"`
	GroupID       string      `json:"group_id,omitempty"`
	GroupName     string      `json:"group_name,omitempty"`
	LinkedBlockID string      `json:"linked_block_id,omitempty"`
	OcrText       *string     `json:"ocr_text,omitempty"`
	OcrStatus     string      `json:"ocr_status,omitempty"`
	CreatedAt     string      `json:"created_at,omitempty"`
	IsCorrection  bool        `json:"is_correction,omitempty"`
	Prompt        *PromptPair `json:"prompt,omitempty"`
}

// PromptPair is a per-block prompt override.
type PromptPair struct {
	System string `json:"system,omitempty"`
	User   string `json:"user,omitempty"`
}

// PxBox returns the block's pixel rectangle.
func (b *Block) PxBox() PixelBox {
	return PixelBox{X1: b.CoordsPx[0], Y1: b.CoordsPx[1], X2: b.CoordsPx[2], Y2: b.CoordsPx[3]}
}

// NormalizedBox returns the block's normalized rectangle.
func (b *Block) NormalizedBox() NormBox {
	return NormBox{X1: b.CoordsNorm[0], Y1: b.CoordsNorm[1], X2: b.CoordsNorm[2], Y2: b.CoordsNorm[3]}
}

// StripEligible reports whether the block joins text strips in pass 1.
func (b *Block) StripEligible() bool {
	return b.BlockType == BlockTypeText || b.BlockType == BlockTypeTable
}

// ParseBlocks reads a blocks.json payload. Both the bare-array form and the
// {"blocks": [...]} wrapper are accepted.
func ParseBlocks(data []byte) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err == nil {
		return validateBlocks(blocks)
	}

	var wrapper struct {
		Blocks []Block `json:"blocks"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, errors.Wrap(err, "failed to parse blocks file")
	}
	return validateBlocks(wrapper.Blocks)
}

func validateBlocks(blocks []Block) ([]Block, error) {
	seen := make(map[string]struct{}, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		if b.ID == "" {
			return nil, errors.Errorf("block %d has no id", i)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, errors.Errorf("duplicate block id %s", b.ID)
		}
		seen[b.ID] = struct{}{}

		switch b.BlockType {
		case BlockTypeText, BlockTypeTable, BlockTypeImage:
		default:
			return nil, errors.Errorf("block %s has unknown type %q", b.ID, b.BlockType)
		}
		if b.ShapeType == "" {
			b.ShapeType = ShapeRectangle
		}
		if b.Source == "" {
			b.Source = SourceUser
		}
		if b.PageIndex < 0 {
			return nil, errors.Errorf("block %s has negative page index", b.ID)
		}
	}
	return blocks, nil
}

// Stats summarizes a requested block set.
type Stats struct {
	Total   int
	ByType  map[string]int
	Grouped int
}

// ComputeStats counts blocks by type and how many carry a group id.
func ComputeStats(blocks []Block) Stats {
	stats := Stats{ByType: make(map[string]int)}
	for i := range blocks {
		stats.Total++
		stats.ByType[blocks[i].BlockType]++
		if blocks[i].GroupID != "" {
			stats.Grouped++
		}
	}
	return stats
}
