package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/shirasu0801/pixeon/internal/testbackend"
	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/pipeline"
	"github.com/shirasu0801/pixeon/pkg/types"
)

func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T) (*Client, *credential.MemoryStore, *testbackend.Server) {
	t.Helper()
	srv := testbackend.New()
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore()
	p := pipeline.New(srv.URL)
	p.Use(pipeline.BearerAuth(store))
	return NewClient(p), store, srv
}

func TestRegisterLoginAndMe(t *testing.T) {
	c, store, _ := newTestClient(t)
	ctx := context.Background()

	u, err := c.Register(ctx, "alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Username != "alice" || u.ID == 0 {
		t.Errorf("Unexpected user %+v", u)
	}

	tok, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tok.AccessToken == "" || tok.TokenType != "bearer" {
		t.Errorf("Unexpected token response %+v", tok)
	}

	_ = store.Save(tok.AccessToken)
	me, err := c.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if me.Email != "alice@example.com" {
		t.Errorf("Expected alice@example.com, got %q", me.Email)
	}
	if me.CreatedAt.IsZero() {
		t.Error("Expected created_at to be decoded")
	}
}

func TestRegisterValidationFailures(t *testing.T) {
	c, _, srv := newTestClient(t)
	srv.AddUser("bob", "bob@example.com", "pw")

	_, err := c.Register(context.Background(), "bob", "bob2@example.com", "pw")
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed for duplicate, got %v", err)
	}
	if types.DetailOf(err) != "Username already registered" {
		t.Errorf("Expected backend detail verbatim, got %q", types.DetailOf(err))
	}

	_, err = c.Register(context.Background(), "carol", "not-an-email", "pw")
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed for bad email, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	c, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@example.com", "pw")

	_, err := c.Login(context.Background(), "alice", "nope")
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestDetectAndHistory(t *testing.T) {
	c, store, srv := newTestClient(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	srv.Detections = []types.DetectionBox{{X1: 10, Y1: 20, X2: 30, Y2: 40, Label: "dog", Confidence: 88.1}}
	_ = store.Save(srv.IssueToken("alice", time.Hour))

	ctx := context.Background()
	res, err := c.Detect(ctx, "photo.png", createTestPNG(t, 32, 24))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(res.Detections) != 1 || res.Detections[0].Label != "dog" {
		t.Errorf("Unexpected detections %+v", res.Detections)
	}
	if res.ID == nil {
		t.Fatal("Expected result id")
	}

	records, err := c.ListHistory(ctx, 0, 20)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec, err := c.GetHistory(ctx, *res.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	stored, err := rec.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(stored.Detections) != 1 {
		t.Errorf("Expected 1 stored detection, got %d", len(stored.Detections))
	}

	if err := c.DeleteHistory(ctx, *res.ID); err != nil {
		t.Fatalf("DeleteHistory failed: %v", err)
	}
	_, err = c.GetHistory(ctx, *res.ID)
	if !errors.Is(err, types.ErrBackendError) {
		t.Errorf("Expected ErrBackendError for deleted record, got %v", err)
	}
}

func TestDetectRejectsNonImage(t *testing.T) {
	c, store, srv := newTestClient(t)
	srv.AddUser("alice", "alice@example.com", "pw")
	_ = store.Save(srv.IssueToken("alice", time.Hour))

	_, err := c.Detect(context.Background(), "notes.txt", []byte("plain text"))
	if !errors.Is(err, types.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", err)
	}
}
