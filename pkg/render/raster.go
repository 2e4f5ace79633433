package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// RasterSurface draws into an in-memory NRGBA image. Anything outside the
// surface is clipped.
type RasterSurface struct {
	img   *image.NRGBA
	faces *faceCache
}

// NewRasterSurface creates an empty surface; the first Resize allocates it
func NewRasterSurface() *RasterSurface {
	return &RasterSurface{img: image.NewNRGBA(image.Rect(0, 0, 0, 0)), faces: newFaceCache()}
}

// Image returns the current pixels
func (s *RasterSurface) Image() *image.NRGBA {
	return s.img
}

// Resize clears the surface to width×height transparent pixels
func (s *RasterSurface) Resize(width, height int) {
	s.img = image.NewNRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
}

// DrawImage scales img to fill dst
func (s *RasterSurface) DrawImage(img image.Image, dst Rect) {
	if img == nil {
		return
	}
	r := toPixels(dst)
	if r.Empty() {
		return
	}
	scaled := imaging.Resize(img, r.Dx(), r.Dy(), imaging.Lanczos)
	draw.Draw(s.img, r, scaled, image.Point{}, draw.Over)
}

// StrokeRect outlines r with a line of lineWidth centred on its edges
func (s *RasterSurface) StrokeRect(r Rect, c color.NRGBA, lineWidth float64) {
	if lineWidth <= 0 {
		return
	}
	half := lineWidth / 2
	outer := toPixels(Rect{X1: math.Min(r.X1, r.X2) - half, Y1: math.Min(r.Y1, r.Y2) - half, X2: math.Max(r.X1, r.X2) + half, Y2: math.Max(r.Y1, r.Y2) + half})
	lw := int(math.Round(lineWidth))
	if lw < 1 {
		lw = 1
	}

	src := image.NewUniform(c)
	bands := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+lw),
		image.Rect(outer.Min.X, outer.Max.Y-lw, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+lw, outer.Max.Y),
		image.Rect(outer.Max.X-lw, outer.Min.Y, outer.Max.X, outer.Max.Y),
	}
	for _, b := range bands {
		draw.Draw(s.img, b, src, image.Point{}, draw.Over)
	}
}

// FillRect paints r with c
func (s *RasterSurface) FillRect(r Rect, c color.NRGBA) {
	draw.Draw(s.img, toPixels(r), image.NewUniform(c), image.Point{}, draw.Over)
}

// FillText draws text with its baseline starting at (x, y)
func (s *RasterSurface) FillText(text string, x, y, size float64, c color.NRGBA) {
	face, err := s.faces.face(size)
	if err != nil {
		return
	}
	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: fixed.Int26_6(math.Round(y * 64))},
	}
	d.DrawString(text)
}

// toPixels snaps r outward to whole pixels
func toPixels(r Rect) image.Rectangle {
	return image.Rect(
		int(math.Floor(math.Min(r.X1, r.X2))),
		int(math.Floor(math.Min(r.Y1, r.Y2))),
		int(math.Ceil(math.Max(r.X1, r.X2))),
		int(math.Ceil(math.Max(r.Y1, r.Y2))),
	)
}
