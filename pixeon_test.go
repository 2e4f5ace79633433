package pixeon

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shirasu0801/pixeon/internal/testbackend"
	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/session"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// createTestImage creates a simple test image encoded as png
func createTestImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T) (*Client, *testbackend.Server, *credential.MemoryStore) {
	t.Helper()
	srv := testbackend.New()
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore()
	c, err := New(Options{BaseURL: srv.URL, Store: store, HTTPClient: srv.Client(), InitialScreen: ScreenLogin})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, srv, store
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Options{Store: credential.NewMemoryStore()}); err == nil {
		t.Error("Expected error without base URL")
	}
}

func TestDetectAndRenderFlow(t *testing.T) {
	c, srv, _ := newTestClient(t)
	srv.Detections = []types.DetectionBox{
		{X1: 200, Y1: 150, X2: 900, Y2: 700, Label: "person", Confidence: 93.2},
	}
	ctx := context.Background()

	c.SetScreen(ScreenRegister)
	if _, err := c.Register(ctx, "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u := c.CurrentUser(); u == nil || u.Username != "alice" {
		t.Fatalf("Expected alice signed in, got %+v", u)
	}

	c.SetScreen(ScreenHome)
	data := createTestImage(t, 1600, 900)
	result, err := c.Detect(ctx, "street.png", data)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	img, err := c.RenderBytes("street.png", data, result.Detections)
	if err != nil {
		t.Fatalf("RenderBytes failed: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 450 {
		t.Errorf("Expected 800x450 render, got %v", img.Bounds())
	}
	if got := img.NRGBAAt(100, 200); got != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("Expected box stroke at scaled left edge, got %v", got)
	}

	c.SetScreen(ScreenHistory)
	entries, err := c.History().List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("History list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(entries))
	}
	if entries[0].ImageURL != c.ImageURL(result.ImageURL) {
		t.Errorf("Expected history image %s, got %s", c.ImageURL(result.ImageURL), entries[0].ImageURL)
	}

	stored, err := c.RenderHistory(ctx, &entries[0])
	if err != nil {
		t.Fatalf("RenderHistory failed: %v", err)
	}
	if stored.Bounds() != img.Bounds() {
		t.Errorf("Expected history render to match, got %v", stored.Bounds())
	}
}

func TestUnauthorizedOffAuthScreenEndsSession(t *testing.T) {
	c, srv, store := newTestClient(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var events []session.Event
	c.OnSession(func(ev session.Event, st session.State) { events = append(events, ev) })

	c.SetScreen(ScreenHistory)
	_ = store.Save("revoked")
	_, err := c.History().List(ctx, 0, 20)
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
	if c.CurrentUser() != nil {
		t.Error("Expected session to end")
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("Expected credential cleared")
	}
	if len(events) != 1 || events[0] != session.EventSessionEnded {
		t.Errorf("Expected a single ended event, got %v", events)
	}
}

func TestUnauthorizedOnLoginScreenKeepsState(t *testing.T) {
	c, srv, store := newTestClient(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var events int
	c.OnSession(func(session.Event, session.State) { events++ })

	c.SetScreen(ScreenLogin)
	_ = store.Save("revoked")
	_, err := c.History().List(ctx, 0, 20)
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
	if token, _, _ := store.Load(); token != "revoked" {
		t.Errorf("Expected credential untouched on the login screen, got %q", token)
	}
	if c.Session().State().Status != session.StatusAuthenticated {
		t.Errorf("Expected session untouched, got %v", c.Session().State().Status)
	}
	if events != 0 {
		t.Errorf("Expected no events, got %d", events)
	}
}

func TestDetectRejectsLargeUpload(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Store: credential.NewMemoryStore(), MaxUploadBytes: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	_, err = c.Detect(context.Background(), "big.png", createTestImage(t, 64, 64))
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", err)
	}
}

func TestTimeoutAppliesToCustomHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	store := credential.NewMemoryStore()
	_ = store.Save("opaque-token")
	c, err := New(Options{BaseURL: srv.URL, Store: store, HTTPClient: &http.Client{}, Timeout: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	start := time.Now()
	_, err = c.Bootstrap(context.Background())
	elapsed := time.Since(start)
	if !errors.Is(err, types.ErrNetworkUnavailable) {
		t.Errorf("Expected ErrNetworkUnavailable, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the timeout to cut the request short, took %v", elapsed)
	}
}
