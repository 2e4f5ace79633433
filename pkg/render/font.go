package render

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// TextMeasurer returns the advance width of text at the given font size
type TextMeasurer interface {
	MeasureText(text string, size float64) float64
}

var (
	goRegular     *opentype.Font
	goRegularErr  error
	goRegularOnce sync.Once
)

func parseGoRegular() (*opentype.Font, error) {
	goRegularOnce.Do(func() {
		goRegular, goRegularErr = opentype.Parse(goregular.TTF)
	})
	return goRegular, goRegularErr
}

// faceCache hands out Go Regular faces, one per size
type faceCache struct {
	mu    sync.Mutex
	faces map[float64]font.Face
}

func newFaceCache() *faceCache {
	return &faceCache{faces: map[float64]font.Face{}}
}

func (c *faceCache) face(size float64) (font.Face, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.faces[size]; ok {
		return f, nil
	}
	ttf, err := parseGoRegular()
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	f, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	c.faces[size] = f
	return f, nil
}

// FontMeasurer measures text with the face RasterSurface draws with
type FontMeasurer struct {
	cache *faceCache
}

// NewFontMeasurer creates a measurer for the built-in Go Regular font
func NewFontMeasurer() *FontMeasurer {
	return &FontMeasurer{cache: newFaceCache()}
}

// MeasureText returns the advance of text in pixels. If the font cannot be
// loaded it falls back to an average glyph width.
func (m *FontMeasurer) MeasureText(text string, size float64) float64 {
	face, err := m.cache.face(size)
	if err != nil {
		return FixedMeasurer{}.MeasureText(text, size)
	}
	return float64(font.MeasureString(face, text)) / 64
}

// FixedMeasurer assumes every rune is Ratio×size wide (0.6 when zero)
type FixedMeasurer struct {
	Ratio float64
}

func (m FixedMeasurer) MeasureText(text string, size float64) float64 {
	ratio := m.Ratio
	if ratio == 0 {
		ratio = 0.6
	}
	return float64(len([]rune(text))) * size * ratio
}
