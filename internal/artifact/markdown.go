package artifact

import (
	"fmt"
	"strings"

	"github.com/corestructure/remote-ocr/internal/document"
)

// GenerateMarkdown renders the recognized document as compact Markdown:
// blocks in page order, top-to-bottom, with per-page headings. Image blocks
// get a subheading, their recognition text and a relative link to the crop.
func GenerateMarkdown(docName string, ann *document.Annotation) []byte {
	var sb strings.Builder

	title := docName
	if title == "" {
		title = "OCR result"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	for pi := range ann.Pages {
		page := &ann.Pages[pi]
		if len(page.Blocks) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## Page %d\n\n", page.PageNumber+1)

		for bi := range page.Blocks {
			blk := &page.Blocks[bi]
			switch blk.BlockType {
			case document.BlockTypeImage:
				fmt.Fprintf(&sb, "### Image %s\n\n", blk.ID)
				writeBlockText(&sb, blk)
				fmt.Fprintf(&sb, "[crop](%s/block_%s.pdf)\n\n", cropsSubdir, blk.ID)
			default:
				writeBlockText(&sb, blk)
			}
		}
	}

	return []byte(sb.String())
}

func writeBlockText(sb *strings.Builder, blk *document.Block) {
	if blk.OcrText == nil || *blk.OcrText == "" {
		if blk.OcrStatus == document.OcrStatusFailed {
			fmt.Fprintf(sb, "*[block %s: recognition failed]*\n\n", blk.ID)
		}
		return
	}
	sb.WriteString(strings.TrimSpace(*blk.OcrText))
	sb.WriteString("\n\n")
}
