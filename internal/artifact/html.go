package artifact

import (
	"fmt"
	"html"
	"strings"

	"github.com/corestructure/remote-ocr/internal/document"
)

// GenerateHTML renders the recognized document as a standalone HTML page.
// Table block text is assumed to already be markup and is embedded as-is;
// everything else is escaped.
func GenerateHTML(docName string, ann *document.Annotation) []byte {
	var sb strings.Builder

	title := html.EscapeString(docName)
	if title == "" {
		title = "OCR result"
	}

	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", title)
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", title)

	for pi := range ann.Pages {
		page := &ann.Pages[pi]
		if len(page.Blocks) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "<h2>Page %d</h2>\n", page.PageNumber+1)

		for bi := range page.Blocks {
			blk := &page.Blocks[bi]
			fmt.Fprintf(&sb, "<div class=\"block\" data-block-id=\"%s\" data-block-type=\"%s\">\n",
				html.EscapeString(blk.ID), html.EscapeString(blk.BlockType))
			writeBlockHTML(&sb, blk)
			sb.WriteString("</div>\n")
		}
	}

	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String())
}

func writeBlockHTML(sb *strings.Builder, blk *document.Block) {
	if blk.OcrText == nil || *blk.OcrText == "" {
		if blk.OcrStatus == document.OcrStatusFailed {
			fmt.Fprintf(sb, "<p class=\"failed\">block %s: recognition failed</p>\n", html.EscapeString(blk.ID))
		}
		return
	}

	text := strings.TrimSpace(*blk.OcrText)
	if blk.BlockType == document.BlockTypeTable && strings.Contains(text, "<table") {
		sb.WriteString(text)
		sb.WriteString("\n")
		return
	}
	fmt.Fprintf(sb, "<p>%s</p>\n", strings.ReplaceAll(html.EscapeString(text), "\n", "<br>\n"))
}
