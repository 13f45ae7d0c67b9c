package ocr

import "context"

// Request is a single recognition call against a backend. PDF carries the
// cropped single-region or strip document to recognize.
type Request struct {
	PDF      []byte
	FileName string
	Prompt   Prompt
	JSONMode bool
	Model    string
}

// Backend turns a cropped PDF into text. Implementations are safe for
// concurrent use.
type Backend interface {
	Name() string
	Recognize(ctx context.Context, req Request) (string, error)
}
