package pipeline

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// The manifest is the handoff between the two passes: pass 1 appends one
// line per processed page plus a trailing summary line, pass 2 replays it
// sequentially. Keeping it on disk means a page's rasters never have to stay
// resident past their crops.

// StripEntry records one strip crop on disk.
type StripEntry struct {
	StripID   string   `json:"strip_id"`
	StripPath string   `json:"strip_path"`
	PageIndex int      `json:"page_index"`
	BlockIDs  []string `json:"block_ids"`
	Box       [4]int   `json:"box"`
}

// ImageEntry records one individually cropped image block.
type ImageEntry struct {
	BlockID       string `json:"block_id"`
	CropPath      string `json:"crop_path"`
	BlockType     string `json:"block_type"`
	PageIndex     int    `json:"page_index"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// PageManifest is one manifest line.
type PageManifest struct {
	Kind      string       `json:"kind"`
	PageIndex int          `json:"page_index"`
	Strips    []StripEntry `json:"strips"`
	Images    []ImageEntry `json:"images"`
}

// ManifestSummary is the final manifest line.
type ManifestSummary struct {
	Kind        string `json:"kind"`
	TotalBlocks int    `json:"total_blocks"`
	TotalStrips int    `json:"total_strips"`
	TotalImages int    `json:"total_images"`
	PdfPath     string `json:"pdf_path"`
}

const (
	manifestKindPage    = "page"
	manifestKindSummary = "summary"
)

// Manifest is the parsed whole.
type Manifest struct {
	Pages   []PageManifest
	Summary *ManifestSummary
}

// Units is the number of backend calls pass 2 will issue.
func (m *Manifest) Units() int {
	n := 0
	for i := range m.Pages {
		n += len(m.Pages[i].Strips) + len(m.Pages[i].Images)
	}
	return n
}

// ManifestWriter appends manifest lines as they are produced.
type ManifestWriter struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

func NewManifestWriter(path string) (*ManifestWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %s", path)
	}
	buf := bufio.NewWriter(f)
	return &ManifestWriter{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// WritePage appends one page line and flushes it to disk.
func (w *ManifestWriter) WritePage(page PageManifest) error {
	page.Kind = manifestKindPage
	if err := w.enc.Encode(page); err != nil {
		return errors.Wrap(err, "failed to write manifest page")
	}
	return errors.Wrap(w.buf.Flush(), "failed to flush manifest")
}

// WriteSummary appends the trailing summary line.
func (w *ManifestWriter) WriteSummary(summary ManifestSummary) error {
	summary.Kind = manifestKindSummary
	if err := w.enc.Encode(summary); err != nil {
		return errors.Wrap(err, "failed to write manifest summary")
	}
	return errors.Wrap(w.buf.Flush(), "failed to flush manifest")
}

func (w *ManifestWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush manifest")
	}
	return errors.Wrap(w.f.Close(), "failed to close manifest")
}

// ReadManifest parses a manifest file back into memory.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %s", path)
	}
	defer f.Close()

	manifest := &Manifest{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var kind struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(line, &kind); err != nil {
			return nil, errors.Wrap(err, "failed to parse manifest line")
		}

		switch kind.Kind {
		case manifestKindPage:
			var page PageManifest
			if err := json.Unmarshal(line, &page); err != nil {
				return nil, errors.Wrap(err, "failed to parse manifest page")
			}
			manifest.Pages = append(manifest.Pages, page)
		case manifestKindSummary:
			var summary ManifestSummary
			if err := json.Unmarshal(line, &summary); err != nil {
				return nil, errors.Wrap(err, "failed to parse manifest summary")
			}
			manifest.Summary = &summary
		default:
			return nil, errors.Errorf("unknown manifest line kind %q", kind.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}
	if manifest.Summary == nil {
		return nil, errors.New("manifest has no summary line")
	}
	return manifest, nil
}
