package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/shirasu0801/pixeon/pkg/types"
)

func createTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// gatedAPI blocks each Detect call until its gate is released
type gatedAPI struct {
	mu      sync.Mutex
	calls   int
	started chan string
	gates   map[string]chan struct{}
	err     error
}

func newGatedAPI(names ...string) *gatedAPI {
	g := &gatedAPI{started: make(chan string, 16), gates: map[string]chan struct{}{}}
	for _, n := range names {
		g.gates[n] = make(chan struct{})
	}
	return g
}

func (g *gatedAPI) Detect(ctx context.Context, filename string, data []byte) (*types.DetectionResult, error) {
	g.mu.Lock()
	g.calls++
	gate := g.gates[filename]
	g.mu.Unlock()

	g.started <- filename
	if gate != nil {
		<-gate
	}
	if g.err != nil {
		return nil, g.err
	}
	return &types.DetectionResult{
		ImageURL:   "/uploads/" + filename,
		Detections: []types.DetectionBox{{Label: filename, Confidence: 90}},
	}, nil
}

func TestDetectPublishesResult(t *testing.T) {
	api := newGatedAPI()
	d := NewDetector(api, nil, DefaultConfig(), nil)

	res, err := d.Detect(context.Background(), "a.png", createTestPNG(t))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if d.Current() != res {
		t.Error("Expected result to be current")
	}

	d.Reset()
	if d.Current() != nil {
		t.Error("Expected no current result after reset")
	}
}

func TestDetectRejectsBeforeUpload(t *testing.T) {
	api := newGatedAPI()
	d := NewDetector(api, nil, Config{MaxUploadBytes: 16}, nil)

	_, err := d.Detect(context.Background(), "big.png", createTestPNG(t))
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", err)
	}
	_, err = d.Detect(context.Background(), "notes.txt", []byte("hi"))
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", err)
	}
	if api.calls != 0 {
		t.Errorf("Expected no upload, got %d calls", api.calls)
	}
}

func TestDetectLastWriteWins(t *testing.T) {
	api := newGatedAPI("first.png", "second.png")
	d := NewDetector(api, nil, DefaultConfig(), nil)
	data := createTestPNG(t)
	ctx := context.Background()

	type outcome struct {
		res *types.DetectionResult
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := d.Detect(ctx, "first.png", data)
		firstDone <- outcome{res, err}
	}()
	<-api.started

	secondDone := make(chan outcome, 1)
	go func() {
		res, err := d.Detect(ctx, "second.png", data)
		secondDone <- outcome{res, err}
	}()
	<-api.started

	// Second finishes first, then the stale first response arrives
	close(api.gates["second.png"])
	second := <-secondDone
	if second.err != nil {
		t.Fatalf("second Detect failed: %v", second.err)
	}
	close(api.gates["first.png"])
	first := <-firstDone

	if !errors.Is(first.err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded for stale request, got %v", first.err)
	}
	if cur := d.Current(); cur == nil || cur.Detections[0].Label != "second.png" {
		t.Errorf("Expected second result to stay current, got %+v", cur)
	}
}

func TestDetectErrorPassesThrough(t *testing.T) {
	api := newGatedAPI()
	api.err = &types.RequestError{Kind: types.ErrBackendError, Status: 413}
	d := NewDetector(api, nil, DefaultConfig(), nil)

	_, err := d.Detect(context.Background(), "a.png", createTestPNG(t))
	if !errors.Is(err, types.ErrBackendError) {
		t.Errorf("Expected ErrBackendError, got %v", err)
	}
	if d.Current() != nil {
		t.Error("Expected no current result")
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]types.DetectionBox{
		{Label: "Dog"}, {Label: "cat"}, {Label: "dog "}, {Label: ""}, {Label: "bird"},
	})
	want := []LabelCount{{"dog", 2}, {"bird", 1}, {"cat", 1}}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v at %d, got %v", want[i], i, got[i])
		}
	}
}
