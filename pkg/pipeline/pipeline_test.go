package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// newTestPipeline wires the default chain against srvURL
func newTestPipeline(srvURL string, store credential.Store, tracker *ScreenTracker) (*Pipeline, *int) {
	p := New(srvURL)
	fired := 0
	p.Subscribe(func() { fired++ })
	p.Use(RequestID(), BearerAuth(store))
	p.UseResponse(AuthFailureHandler(store, NewScreenPolicy(tracker.Current, DefaultPublicScreens), p.Invalidate, nil))
	return p, &fired
}

func get(t *testing.T, p *Pipeline, path string) (*Response, error) {
	t.Helper()
	req, err := p.NewRequest(context.Background(), http.MethodGet, path, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return p.Do(req)
}

func TestBearerAttachedWhenTokenPresent(t *testing.T) {
	var gotAuth, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(RequestIDHeaderKey)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := credential.NewMemoryStore()
	p, _ := newTestPipeline(srv.URL, store, NewScreenTracker("/home"))

	if _, err := get(t, p, "/api/auth/me"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Expected no Authorization header, got %q", gotAuth)
	}
	if gotID == "" {
		t.Error("Expected request id header to be set")
	}

	_ = store.Save("tok-1")
	if _, err := get(t, p, "/api/auth/me"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Expected 'Bearer tok-1', got %q", gotAuth)
	}
}

func TestUnauthorizedSuppressedOnAuthScreens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}))
	defer srv.Close()

	for _, screen := range []string{"/login", "/register", "/login/"} {
		store := credential.NewMemoryStore()
		_ = store.Save("tok")
		p, fired := newTestPipeline(srv.URL, store, NewScreenTracker(screen))

		_, err := get(t, p, "/api/auth/me")
		if !errors.Is(err, types.ErrAuthenticationFailed) {
			t.Errorf("[%s] Expected ErrAuthenticationFailed, got %v", screen, err)
		}
		if token, ok, _ := store.Load(); !ok || token != "tok" {
			t.Errorf("[%s] Expected credential to stay untouched, got %q ok=%v", screen, token, ok)
		}
		if *fired != 0 {
			t.Errorf("[%s] Expected no invalidation signal, got %d", screen, *fired)
		}
	}
}

func TestUnauthorizedClearsSessionElsewhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}))
	defer srv.Close()

	store := credential.NewMemoryStore()
	_ = store.Save("tok")
	p, fired := newTestPipeline(srv.URL, store, NewScreenTracker("/history"))

	_, err := get(t, p, "/api/history")
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
	if types.DetailOf(err) != "Could not validate credentials" {
		t.Errorf("Unexpected detail %q", types.DetailOf(err))
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("Expected credential to be cleared")
	}
	if *fired != 1 {
		t.Errorf("Expected exactly one invalidation signal, got %d", *fired)
	}
}

func TestNetworkFailureKeepsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	store := credential.NewMemoryStore()
	_ = store.Save("tok")
	p, fired := newTestPipeline(url, store, NewScreenTracker("/home"))

	_, err := get(t, p, "/api/history")
	if !errors.Is(err, types.ErrNetworkUnavailable) {
		t.Fatalf("Expected ErrNetworkUnavailable, got %v", err)
	}
	if errors.Is(err, types.ErrAuthenticationFailed) {
		t.Error("Network failure must not be an authentication failure")
	}
	if _, ok, _ := store.Load(); !ok {
		t.Error("Network failure must not clear the credential")
	}
	if *fired != 0 {
		t.Errorf("Expected no invalidation signal, got %d", *fired)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   error
		detail string
	}{
		{http.StatusBadRequest, `{"detail":"Username already registered"}`, types.ErrValidationFailed, "Username already registered"},
		{http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, types.ErrValidationFailed, "value is not a valid email address"},
		{http.StatusNotFound, `{"detail":"not found"}`, types.ErrBackendError, "not found"},
		{http.StatusRequestEntityTooLarge, `payload too large`, types.ErrBackendError, "payload too large"},
		{http.StatusInternalServerError, `{"detail":"boom"}`, types.ErrBackendError, "boom"},
	}

	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			io.WriteString(w, c.body)
		}))
		p, _ := newTestPipeline(srv.URL, credential.NewMemoryStore(), NewScreenTracker("/home"))

		_, err := get(t, p, "/x")
		if !errors.Is(err, c.kind) {
			t.Errorf("status %d: expected %v, got %v", c.status, c.kind, err)
		}
		if got := types.DetailOf(err); got != c.detail {
			t.Errorf("status %d: expected detail %q, got %q", c.status, c.detail, got)
		}
		srv.Close()
	}
}

func TestSuccessPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"username":"alice"}`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(srv.URL+"/", credential.NewMemoryStore(), NewScreenTracker("/home"))
	resp, err := get(t, p, "/api/auth/me")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var u types.User
	if err := resp.DecodeJSON(&u); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Expected alice, got %q", u.Username)
	}
}

func TestAuthFailureHandlerInIsolation(t *testing.T) {
	store := credential.NewMemoryStore()
	tracker := NewScreenTracker("/home")
	calls := 0
	h := AuthFailureHandler(store, NewScreenPolicy(tracker.Current, []string{"/login", "/register", "/reset"}), func() { calls++ }, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	unauthorized := func() *http.Response {
		return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(strings.NewReader(""))}
	}

	// Extra public screens come from configuration
	tracker.Set("/reset")
	_ = store.Save("tok")
	h(req, unauthorized(), nil)
	if calls != 0 {
		t.Errorf("Expected no signal on configured public screen, got %d", calls)
	}

	tracker.Set("/home")
	h(req, unauthorized(), nil)
	if calls != 1 {
		t.Errorf("Expected one signal, got %d", calls)
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("Expected credential to be cleared")
	}

	// No response at all is never an authentication failure
	_ = store.Save("tok")
	h(req, nil, errors.New("dial tcp: connection refused"))
	if calls != 1 {
		t.Errorf("Expected signal count to stay 1, got %d", calls)
	}
	if _, ok, _ := store.Load(); !ok {
		t.Error("Expected credential to survive transport error")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	p := New("http://localhost")
	a, b := 0, 0
	unsubA := p.Subscribe(func() { a++ })
	p.Subscribe(func() { b++ })

	p.Invalidate()
	unsubA()
	p.Invalidate()

	if a != 1 {
		t.Errorf("Expected first listener called once, got %d", a)
	}
	if b != 2 {
		t.Errorf("Expected second listener called twice, got %d", b)
	}
}

func TestTimeoutSurvivesCustomClient(t *testing.T) {
	custom := &http.Client{}
	for _, opts := range [][]Option{
		{WithTimeout(2 * time.Second), WithHTTPClient(custom)},
		{WithHTTPClient(custom), WithTimeout(2 * time.Second)},
	} {
		p := New("http://example.invalid", opts...)
		if p.Timeout() != 2*time.Second {
			t.Errorf("Expected 2s timeout, got %v", p.Timeout())
		}
	}
	if custom.Timeout != 0 {
		t.Errorf("Expected caller's client untouched, got %v", custom.Timeout)
	}
	if p := New("http://example.invalid", WithHTTPClient(&http.Client{Timeout: time.Second})); p.Timeout() != time.Second {
		t.Errorf("Expected client timeout kept without WithTimeout, got %v", p.Timeout())
	}
}

func TestUndecodableSuccessIsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(srv.URL, credential.NewMemoryStore(), NewScreenTracker("/home"))
	resp, err := get(t, p, "/api/auth/me")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var u types.User
	err = resp.DecodeJSON(&u)
	if !errors.Is(err, types.ErrBackendError) {
		t.Fatalf("Expected ErrBackendError, got %v", err)
	}
	var reqErr *types.RequestError
	if !errors.As(err, &reqErr) || reqErr.Path != "/api/auth/me" || reqErr.Status != http.StatusOK {
		t.Errorf("Expected request context on the error, got %+v", reqErr)
	}
}

func TestFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	p := New(srv.URL, WithLogger(zap.New(core)))
	if _, err := get(t, p, "/api/history"); err == nil {
		t.Fatal("Expected error")
	}
	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 failure log, got %d", len(entries))
	}
	if path := entries[0].ContextMap()["path"]; path != "/api/history" {
		t.Errorf("Expected path /api/history, got %v", path)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("画", maxDetailLen)
	got := truncate("a" + long)
	if !utf8.ValidString(got) {
		t.Error("Expected valid UTF-8 after truncation")
	}
	if len(got) > maxDetailLen || len(got) < maxDetailLen-utf8.UTFMax {
		t.Errorf("Expected about %d bytes, got %d", maxDetailLen, len(got))
	}
	if short := "画像がありません"; truncate(short) != short {
		t.Errorf("Expected short detail unchanged, got %q", truncate(short))
	}
}
