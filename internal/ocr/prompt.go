// Package ocr submits crops to the remote recognition backends and turns
// their responses back into per-block text.
package ocr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corestructure/remote-ocr/internal/document"
)

// Prompt is a system/user message pair sent to a backend.
type Prompt struct {
	System string
	User   string
}

const (
	defaultSingleSystem = "You are an expert OCR system. Extract text accurately."
	defaultSingleUser   = "Recognize the text in the image. Preserve formatting."

	stripSystem = "You are an expert OCR system. Extract text from each block accurately. " +
		"Each block is separated by a black bar with white text 'BLOCK: XXXX-XXXX-XXX'. " +
		"You MUST include these BLOCK markers in your response to separate each block's content."

	correctionPreamble = "This is a correction pass. A previous OCR attempt produced the text " +
		"given below; fix its mistakes against the image instead of transcribing from scratch.\n\n" +
		"Previous text:\n"
)

// BuildStripPrompt composes the batch prompt for a strip. Single-member
// strips use the block's own prompt, or the plain template, without markers.
func BuildStripPrompt(blocks []document.Block) Prompt {
	if len(blocks) == 1 {
		if p := blocks[0].Prompt; p != nil && (p.System != "" || p.User != "") {
			return Prompt{System: p.System, User: p.User}
		}
		return Prompt{System: defaultSingleSystem, User: defaultSingleUser}
	}

	var sb strings.Builder
	sb.WriteString("Recognize the text in the image.\n\n")
	fmt.Fprintf(&sb, "The image contains %d blocks separated by black bars.\n", len(blocks))
	sb.WriteString("Each block starts with a marker 'BLOCK: XXXX-XXXX-XXX' (white text on a black bar).\n")
	sb.WriteString("IMPORTANT: repeat the BLOCK marker before the text of EVERY block.\n")
	sb.WriteString("Response format:\n")
	for i := range blocks {
		fmt.Fprintf(&sb, "BLOCK: %s\n<text of block %d>\n\n", blocks[i].ID, i+1)
	}
	sb.WriteString("Do not merge blocks. Each block is a separate fragment of the document.")

	return Prompt{System: stripSystem, User: sb.String()}
}

// ImagePromptVars are the substitutions available to image block templates.
type ImagePromptVars struct {
	DocName        string
	PageIndex      int
	BlockID        string
	Hint           string
	PdfplumberText string
}

// BuildImagePrompt fills an image block's prompt template. The block's own
// prompt wins over the fallback template.
func BuildImagePrompt(block *document.Block, template Prompt, vars ImagePromptVars) Prompt {
	prompt := template
	if p := block.Prompt; p != nil && (p.System != "" || p.User != "") {
		prompt = Prompt{System: p.System, User: p.User}
	}
	if prompt.System == "" && prompt.User == "" {
		prompt = Prompt{User: "Describe what the image shows. Return the result as JSON."}
	}

	replacements := map[string]string{
		"{{doc_name}}":        orUnknown(vars.DocName),
		"{{page_index}}":      fmt.Sprintf("%d", vars.PageIndex),
		"{{block_id}}":        vars.BlockID,
		"{{hint}}":            vars.Hint,
		"{{pdfplumber_text}}": vars.PdfplumberText,
	}
	for placeholder, value := range replacements {
		prompt.System = strings.ReplaceAll(prompt.System, placeholder, value)
		prompt.User = strings.ReplaceAll(prompt.User, placeholder, value)
	}
	return prompt
}

// WithCorrection prefixes the prompt with the correction preamble and the
// prior OCR text.
func (p Prompt) WithCorrection(previousText string) Prompt {
	return Prompt{
		System: p.System,
		User:   correctionPreamble + previousText + "\n\n" + p.User,
	}
}

var jsonHintRe = regexp.MustCompile("(?i)json object|```json|\\bjson\\b")

// DetectJSONMode reports whether the prompt asks for JSON output.
func DetectJSONMode(p Prompt) bool {
	return jsonHintRe.MatchString(p.System) || jsonHintRe.MatchString(p.User)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
