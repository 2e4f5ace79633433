package render

import (
	"errors"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/shirasu0801/pixeon/pkg/types"
)

// DefaultMaxWidth is the display width cap used when none is configured
const DefaultMaxWidth = 800

// Style controls overlay appearance
type Style struct {
	StrokeColor    color.NRGBA
	LineWidth      float64
	LabelColor     color.NRGBA
	TextColor      color.NRGBA
	LabelPadding   float64
	MinLabelHeight float64
	MinFontSize    float64
	// FontDivisor sets the font size as displayWidth/FontDivisor
	FontDivisor float64
}

// DefaultStyle returns green boxes with black text on green labels
func DefaultStyle() Style {
	return Style{
		StrokeColor:    color.NRGBA{0, 255, 0, 255},
		LineWidth:      3,
		LabelColor:     color.NRGBA{0, 255, 0, 255},
		TextColor:      color.NRGBA{0, 0, 0, 255},
		LabelPadding:   5,
		MinLabelHeight: 25,
		MinFontSize:    12,
		FontDivisor:    40,
	}
}

// ImageHandle is a decoded source image ready to be rendered
type ImageHandle struct {
	Image  image.Image
	Source string
}

// Size returns the pixel dimensions of the image
func (h ImageHandle) Size() (int, int) {
	if h.Image == nil {
		return 0, 0
	}
	b := h.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Renderer plans and draws detection overlays
type Renderer struct {
	style    Style
	measurer TextMeasurer
}

// Option configures a Renderer
type Option func(*Renderer)

// WithStyle replaces the default style
func WithStyle(s Style) Option {
	return func(r *Renderer) { r.style = s }
}

// WithMeasurer sets how label text is measured
func WithMeasurer(m TextMeasurer) Option {
	return func(r *Renderer) {
		if m != nil {
			r.measurer = m
		}
	}
}

// NewRenderer creates a renderer measuring text with the built-in font
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{style: DefaultStyle(), measurer: NewFontMeasurer()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Style returns the renderer style
func (r *Renderer) Style() Style {
	return r.style
}

// FontSize returns the label font size for a display width
func (r *Renderer) FontSize(displayWidth float64) float64 {
	divisor := r.style.FontDivisor
	if divisor <= 0 {
		divisor = 40
	}
	return math.Max(r.style.MinFontSize, displayWidth/divisor)
}

// Label formats the text shown above a box
func Label(b types.DetectionBox) string {
	return b.Label + " (" + strconv.FormatFloat(b.Confidence, 'f', -1, 64) + "%)"
}

// Plan returns the draw commands for boxes over img. All box strokes come
// before any label so no stroke is drawn over a label.
func (r *Renderer) Plan(img ImageHandle, boxes []types.DetectionBox, maxWidth float64) []Command {
	w, h := img.Size()
	t := ComputeTransform(w, h, maxWidth)
	sw, sh := t.SurfaceSize()

	cmds := make([]Command, 0, 2+3*len(boxes))
	cmds = append(cmds,
		Command{Op: OpResize, Width: sw, Height: sh},
		Command{Op: OpDrawImage, Rect: Rect{X2: float64(sw), Y2: float64(sh)}},
	)
	if len(boxes) == 0 {
		return cmds
	}

	for _, b := range boxes {
		cmds = append(cmds, Command{
			Op:        OpStrokeRect,
			Rect:      t.Box(b),
			Color:     r.style.StrokeColor,
			LineWidth: r.style.LineWidth,
		})
	}

	size := r.FontSize(t.DisplayWidth)
	labelHeight := math.Max(r.style.MinLabelHeight, size+r.style.LabelPadding)
	for _, b := range boxes {
		box := t.Box(b)
		text := Label(b)
		textWidth := r.measurer.MeasureText(text, size)
		cmds = append(cmds,
			Command{
				Op:    OpFillRect,
				Rect:  Rect{X1: box.X1, Y1: box.Y1 - labelHeight, X2: box.X1 + textWidth + 2*r.style.LabelPadding, Y2: box.Y1},
				Color: r.style.LabelColor,
			},
			Command{
				Op:       OpFillText,
				Text:     text,
				X:        box.X1 + r.style.LabelPadding,
				Y:        box.Y1 - r.style.LabelPadding,
				FontSize: size,
				Color:    r.style.TextColor,
			},
		)
	}
	return cmds
}

// Render plans and draws onto s
func (r *Renderer) Render(s Surface, img ImageHandle, boxes []types.DetectionBox, maxWidth float64) error {
	if img.Image == nil {
		return errors.New("render: no image loaded")
	}
	for _, cmd := range r.Plan(img, boxes, maxWidth) {
		if err := Apply(s, cmd, img.Image); err != nil {
			return err
		}
	}
	return nil
}
