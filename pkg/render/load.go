package render

import (
	"context"
	"fmt"

	"github.com/shirasu0801/pixeon/pkg/processing"
)

// Loader decodes images into handles
type Loader struct {
	proc *processing.Processor
}

// NewLoader creates a loader. A nil processor uses processing defaults.
func NewLoader(proc *processing.Processor) *Loader {
	if proc == nil {
		proc = processing.NewProcessor()
	}
	return &Loader{proc: proc}
}

// Load decodes src, a file path or an http(s) URL. It returns once the
// image is fully decoded.
func (l *Loader) Load(ctx context.Context, src string) (ImageHandle, error) {
	img, err := l.proc.LoadImageSmart(ctx, src)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("failed to load image %s: %w", src, err)
	}
	return ImageHandle{Image: img, Source: src}, nil
}

// LoadBytes decodes an in-memory image
func (l *Loader) LoadBytes(name string, data []byte) (ImageHandle, error) {
	img, err := l.proc.LoadImageBytes(data)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("failed to decode image %s: %w", name, err)
	}
	return ImageHandle{Image: img, Source: name}, nil
}

// LoadImage decodes src with a default loader
func LoadImage(ctx context.Context, src string) (ImageHandle, error) {
	return NewLoader(nil).Load(ctx, src)
}
