package detection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/client"
	"github.com/shirasu0801/pixeon/pkg/processing"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// ErrSuperseded is returned by Detect when a newer detection was started
// while this one was in flight. Its result is dropped.
var ErrSuperseded = errors.New("detection superseded by a newer request")

// Config holds the local upload checks
type Config struct {
	MaxUploadBytes int64
	AllowedTypes   []string
}

// DefaultConfig returns the 10MB jpeg/png limits
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: processing.DefaultMaxUploadBytes,
		AllowedTypes:   append([]string(nil), processing.DefaultAllowedTypes...),
	}
}

// Detector submits images for detection and keeps the latest result
type Detector struct {
	client    client.DetectionAPI
	processor *processing.Processor
	config    Config
	logger    *zap.Logger

	mu         sync.Mutex
	generation uint64
	current    *types.DetectionResult
}

// NewDetector creates a new detector on top of a detection client
func NewDetector(client client.DetectionAPI, processor *processing.Processor, config Config, logger *zap.Logger) *Detector {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{client: client, processor: processor, config: config, logger: logger}
}

// Detect validates data, uploads it and publishes the result as current.
// Starting a new detection discards interest in any earlier one; the earlier
// call still completes but returns ErrSuperseded.
func (d *Detector) Detect(ctx context.Context, filename string, data []byte) (*types.DetectionResult, error) {
	contentType, err := d.processor.ValidateUpload(filename, data, d.config.MaxUploadBytes, d.config.AllowedTypes)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.current = nil
	d.mu.Unlock()

	d.logger.Debug("detection started",
		zap.String("file", filename),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
		zap.Uint64("generation", gen))

	result, err := d.client.Detect(ctx, filename, data)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation {
		d.logger.Debug("dropping stale detection", zap.Uint64("generation", gen), zap.Uint64("latest", d.generation))
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}

	d.current = result
	d.logger.Info("detection finished",
		zap.String("file", filename),
		zap.Int("detections", len(result.Detections)),
		zap.Float64("processing_time", result.ProcessingTime))
	return result, nil
}

// DetectFile reads path and detects on its content
func (d *Detector) DetectFile(ctx context.Context, path string) (*types.DetectionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return d.Detect(ctx, path, data)
}

// Current returns the latest published result, or nil
func (d *Detector) Current() *types.DetectionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Reset forgets the current result and any in-flight detection
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.current = nil
}

// LabelCount is how many boxes carry a label
type LabelCount struct {
	Label string
	Count int
}

// Summarize counts detections per label, most frequent first. Labels are
// compared case-insensitively and trimmed.
func Summarize(detections []types.DetectionBox) []LabelCount {
	counts := map[string]int{}
	for _, det := range detections {
		label := strings.ToLower(strings.TrimSpace(det.Label))
		if label == "" {
			continue
		}
		counts[label]++
	}

	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
