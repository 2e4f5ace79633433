package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/shirasu0801/pixeon/pkg/types"
)

const (
	// DefaultMaxUploadBytes is the largest image accepted for detection
	DefaultMaxUploadBytes = 10 << 20
	userAgent             = "pixeon/1.0"
)

// DefaultAllowedTypes are the content types accepted for detection
var DefaultAllowedTypes = []string{"image/jpeg", "image/png"}

// Processor handles image loading, upload checks and encoding
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// NewProcessorWithClient uses hc for URL downloads
func NewProcessorWithClient(hc *http.Client) *Processor {
	if hc == nil {
		return NewProcessor()
	}
	return &Processor{httpClient: hc}
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.LoadImageBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.LoadImageBytes(data)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// LoadImageBytes decodes an image from memory
func (p *Processor) LoadImageBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// ValidateUpload runs the local checks done before an image is sent for
// detection. Failures are ErrValidationFailed and no request should be made.
func (p *Processor) ValidateUpload(filename string, data []byte, maxBytes int64, allowedTypes []string) (string, error) {
	if len(data) == 0 {
		return "", types.NewValidationError(fmt.Sprintf("%s is empty", filepath.Base(filename)))
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if int64(len(data)) > maxBytes {
		return "", types.NewValidationError(fmt.Sprintf("file size must be %dMB or less", maxBytes>>20))
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}

	contentType := http.DetectContentType(data)
	for _, allowed := range allowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return contentType, nil
		}
	}
	return "", types.NewValidationError(fmt.Sprintf("unsupported image type %s (allowed: %s)", contentType, strings.Join(allowedTypes, ", ")))
}

// EncodeImage writes img in the given format (jpg, png or webp)
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch normalizeFormat(format) {
	case "webp":
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(w, img, opts)
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch normalizeFormat(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := p.EncodeImage(f, img, "webp", quality, lossless); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// normalizeFormat maps extensions to the canonical format names
func normalizeFormat(format string) string {
	f := strings.TrimPrefix(strings.ToLower(format), ".")
	switch f {
	case "jpeg", "jpg", "":
		return "jpg"
	}
	return f
}
