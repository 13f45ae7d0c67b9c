package pipeline

import (
	"fmt"
	"sort"

	"github.com/corestructure/remote-ocr/internal/document"
)

// Strip is a vertical run of text and table blocks recognized in one backend
// call. Its box is the union of the member boxes.
type Strip struct {
	ID        string
	PageIndex int
	Blocks    []document.Block
	Box       document.PixelBox
}

// BlockIDs returns the member ids top-to-bottom.
func (s *Strip) BlockIDs() []string {
	ids := make([]string, len(s.Blocks))
	for i := range s.Blocks {
		ids[i] = s.Blocks[i].ID
	}
	return ids
}

// BuildStrips merges one page's strip-eligible blocks into strips. Blocks are
// taken top-to-bottom; a block joins the current strip when the vertical gap
// to it is at most gapPx and the merged strip stays within maxHeightPx.
func BuildStrips(pageIndex int, blocks []document.Block, gapPx, maxHeightPx int) []Strip {
	if len(blocks) == 0 {
		return nil
	}

	sorted := make([]document.Block, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CoordsPx[1] < sorted[j].CoordsPx[1]
	})

	var strips []Strip
	current := newStrip(pageIndex, len(strips), sorted[0])
	for _, b := range sorted[1:] {
		box := b.PxBox()
		gap := box.Y1 - current.Box.Y2
		mergedBottom := current.Box.Y2
		if box.Y2 > mergedBottom {
			mergedBottom = box.Y2
		}
		if gap <= gapPx && mergedBottom-current.Box.Y1 <= maxHeightPx {
			current.Blocks = append(current.Blocks, b)
			current.Box = unionBox(current.Box, box)
			continue
		}
		strips = append(strips, current)
		current = newStrip(pageIndex, len(strips), b)
	}
	return append(strips, current)
}

func newStrip(pageIndex, ordinal int, first document.Block) Strip {
	return Strip{
		ID:        fmt.Sprintf("p%d_s%d", pageIndex, ordinal),
		PageIndex: pageIndex,
		Blocks:    []document.Block{first},
		Box:       first.PxBox(),
	}
}

func unionBox(a, b document.PixelBox) document.PixelBox {
	if b.X1 < a.X1 {
		a.X1 = b.X1
	}
	if b.Y1 < a.Y1 {
		a.Y1 = b.Y1
	}
	if b.X2 > a.X2 {
		a.X2 = b.X2
	}
	if b.Y2 > a.Y2 {
		a.Y2 = b.Y2
	}
	return a
}
