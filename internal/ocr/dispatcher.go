package ocr

import (
	"context"

	"github.com/pkg/errors"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/document"
	"github.com/corestructure/remote-ocr/internal/ratelimit"
)

// Dispatcher routes recognition requests to the backend selected by the
// job's engine field. Every call is gated by the backend's rate limiter
// before it touches the network.
type Dispatcher struct {
	backends map[string]dispatchTarget
}

type dispatchTarget struct {
	backend Backend
	limiter *ratelimit.Limiter
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{backends: make(map[string]dispatchTarget)}
}

// Register binds an engine name to a backend and its limiter. A nil limiter
// means the backend is not gated.
func (d *Dispatcher) Register(engine string, backend Backend, limiter *ratelimit.Limiter) {
	d.backends[engine] = dispatchTarget{backend: backend, limiter: limiter}
}

// Engines returns the registered engine names.
func (d *Dispatcher) Engines() []string {
	names := make([]string, 0, len(d.backends))
	for name := range d.backends {
		names = append(names, name)
	}
	return names
}

// Recognize acquires the engine's rate limiter slot and forwards the request
// to its backend.
func (d *Dispatcher) Recognize(ctx context.Context, engine string, req Request) (string, error) {
	target, ok := d.backends[engine]
	if !ok {
		return "", errors.Errorf("unknown engine %q", engine)
	}

	if target.limiter != nil {
		release, err := target.limiter.Acquire(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "engine %s", engine)
		}
		defer release()
	}

	return target.backend.Recognize(ctx, req)
}

// ModelFor picks the provider model for a block from the job settings. Image
// blocks hinted as stamps use the stamp model when one is configured.
func ModelFor(settings api.JobSettings, block *document.Block) string {
	switch block.BlockType {
	case document.BlockTypeTable:
		return settings.TableModel
	case document.BlockTypeImage:
		if settings.StampModel != "" && (block.Hint == "stamp" || block.CategoryCode == "stamp") {
			return settings.StampModel
		}
		return settings.ImageModel
	default:
		return settings.TextModel
	}
}
