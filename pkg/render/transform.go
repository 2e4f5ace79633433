// Package render draws detection results over their source image.
//
// Rendering is split in two phases. LoadImage decodes the source into an
// ImageHandle. Renderer.Plan then turns the handle, the detection boxes and a
// maximum display width into an ordered list of draw commands; it is a pure
// function and returns the same commands for the same inputs. Render replays
// those commands on a Surface, e.g. a RasterSurface backed by an image or a
// Recorder in tests.
package render

import (
	"math"

	"github.com/shirasu0801/pixeon/pkg/types"
)

// Rect is an axis-aligned rectangle given by two corners
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Width returns X2-X1
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns Y2-Y1
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Transform maps source-image pixels to display pixels
type Transform struct {
	Scale         float64
	SourceWidth   int
	SourceHeight  int
	DisplayWidth  float64
	DisplayHeight float64
}

// ComputeTransform fits a w×h image into maxWidth. Images are never
// upscaled and both axes share the same factor. A maxWidth <= 0 disables the cap.
func ComputeTransform(w, h int, maxWidth float64) Transform {
	scale := 1.0
	if maxWidth > 0 && w > 0 {
		scale = math.Min(1, maxWidth/float64(w))
	}
	return Transform{
		Scale:         scale,
		SourceWidth:   w,
		SourceHeight:  h,
		DisplayWidth:  float64(w) * scale,
		DisplayHeight: float64(h) * scale,
	}
}

// Box scales every coordinate of b. Inverted or out-of-bounds boxes are kept as is.
func (t Transform) Box(b types.DetectionBox) Rect {
	return Rect{
		X1: b.X1 * t.Scale,
		Y1: b.Y1 * t.Scale,
		X2: b.X2 * t.Scale,
		Y2: b.Y2 * t.Scale,
	}
}

// SurfaceSize is the display size rounded to whole pixels
func (t Transform) SurfaceSize() (int, int) {
	return int(math.Round(t.DisplayWidth)), int(math.Round(t.DisplayHeight))
}
