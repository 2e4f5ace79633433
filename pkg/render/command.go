package render

import (
	"fmt"
	"image"
	"image/color"
)

// Op identifies a draw command
type Op int

const (
	OpResize Op = iota
	OpDrawImage
	OpStrokeRect
	OpFillRect
	OpFillText
)

func (o Op) String() string {
	switch o {
	case OpResize:
		return "resize"
	case OpDrawImage:
		return "draw-image"
	case OpStrokeRect:
		return "stroke-rect"
	case OpFillRect:
		return "fill-rect"
	case OpFillText:
		return "fill-text"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Command is one drawing step. Only the fields relevant to Op are set.
type Command struct {
	Op Op

	// Resize
	Width, Height int

	// DrawImage destination, StrokeRect and FillRect area
	Rect      Rect
	Color     color.NRGBA
	LineWidth float64

	// FillText; (X, Y) is the start of the baseline
	Text     string
	X, Y     float64
	FontSize float64
}

// IsOverlay reports whether the command belongs to a detection overlay
func (c Command) IsOverlay() bool {
	return c.Op == OpStrokeRect || c.Op == OpFillRect || c.Op == OpFillText
}

// Surface is a drawing target with canvas-like primitives
type Surface interface {
	Resize(width, height int)
	DrawImage(img image.Image, dst Rect)
	StrokeRect(r Rect, c color.NRGBA, lineWidth float64)
	FillRect(r Rect, c color.NRGBA)
	FillText(text string, x, y, size float64, c color.NRGBA)
}

// Apply executes cmd on s. src is the image used by OpDrawImage.
func Apply(s Surface, cmd Command, src image.Image) error {
	switch cmd.Op {
	case OpResize:
		s.Resize(cmd.Width, cmd.Height)
	case OpDrawImage:
		s.DrawImage(src, cmd.Rect)
	case OpStrokeRect:
		s.StrokeRect(cmd.Rect, cmd.Color, cmd.LineWidth)
	case OpFillRect:
		s.FillRect(cmd.Rect, cmd.Color)
	case OpFillText:
		s.FillText(cmd.Text, cmd.X, cmd.Y, cmd.FontSize, cmd.Color)
	default:
		return fmt.Errorf("unknown draw op %v", cmd.Op)
	}
	return nil
}

// Recorder is a Surface that only records what it was asked to draw
type Recorder struct {
	Commands []Command
}

func (r *Recorder) Resize(width, height int) {
	r.Commands = append(r.Commands, Command{Op: OpResize, Width: width, Height: height})
}

func (r *Recorder) DrawImage(img image.Image, dst Rect) {
	r.Commands = append(r.Commands, Command{Op: OpDrawImage, Rect: dst})
}

func (r *Recorder) StrokeRect(rect Rect, c color.NRGBA, lineWidth float64) {
	r.Commands = append(r.Commands, Command{Op: OpStrokeRect, Rect: rect, Color: c, LineWidth: lineWidth})
}

func (r *Recorder) FillRect(rect Rect, c color.NRGBA) {
	r.Commands = append(r.Commands, Command{Op: OpFillRect, Rect: rect, Color: c})
}

func (r *Recorder) FillText(text string, x, y, size float64, c color.NRGBA) {
	r.Commands = append(r.Commands, Command{Op: OpFillText, Text: text, X: x, Y: y, FontSize: size, Color: c})
}

// OverlayCount returns the number of recorded overlay commands
func (r *Recorder) OverlayCount() int {
	n := 0
	for _, c := range r.Commands {
		if c.IsOverlay() {
			n++
		}
	}
	return n
}
