// Package pixeon is a client for an object-detection backend.
//
// It wires the pieces under pkg/ together: a credential store, the request
// pipeline that attaches the bearer token and ends the session on a 401, the
// session manager, detection with upload checks, history browsing and the
// overlay renderer.
//
// Basic usage:
//
//	c, err := pixeon.New(pixeon.Options{BaseURL: "http://localhost:8000"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	if _, err := c.Login(ctx, "alice", "secret"); err != nil {
//		log.Fatal(err)
//	}
//
//	data, _ := os.ReadFile("street.jpg")
//	result, err := c.Detect(ctx, "street.jpg", data)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	img, err := c.RenderBytes("street.jpg", data, result.Detections)
//	...
//
// A 401 from any request clears the stored token and moves the session to
// anonymous, unless the current screen (see SetScreen) is one of the public
// screens, by default /login and /register.
package pixeon

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/api"
	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/detection"
	"github.com/shirasu0801/pixeon/pkg/history"
	"github.com/shirasu0801/pixeon/pkg/pipeline"
	"github.com/shirasu0801/pixeon/pkg/processing"
	"github.com/shirasu0801/pixeon/pkg/render"
	"github.com/shirasu0801/pixeon/pkg/session"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// Version of the pixeon client
const Version = "1.0.0"

// Screens the bundled CLI moves between
const (
	ScreenLogin    = "/login"
	ScreenRegister = "/register"
	ScreenHome     = "/home"
	ScreenHistory  = "/history"
)

// Options configures a Client. Zero values pick defaults.
type Options struct {
	BaseURL string
	// Timeout bounds each request, including with a custom HTTPClient; zero
	// leaves it to the client
	Timeout    time.Duration
	HTTPClient *http.Client
	// Store holds the bearer token; defaults to a FileStore at credential.DefaultPath
	Store         credential.Store
	PublicScreens []string
	// InitialScreen is the screen before the first SetScreen call
	InitialScreen  string
	MaxWidth       float64
	MaxUploadBytes int64
	AllowedTypes   []string
	Style          *render.Style
	Logger         *zap.Logger
	UserAgent      string
}

// Client is the high-level entry point
type Client struct {
	pipeline  *pipeline.Pipeline
	api       *api.Client
	store     credential.Store
	screens   *pipeline.ScreenTracker
	session   *session.Manager
	detector  *detection.Detector
	history   *history.Service
	processor *processing.Processor
	loader    *render.Loader
	renderer  *render.Renderer
	maxWidth  float64
	logger    *zap.Logger
	detach    func()
}

// New wires a client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := opts.Store
	if store == nil {
		store = credential.NewFileStore(credential.DefaultPath())
	}

	publicScreens := opts.PublicScreens
	if len(publicScreens) == 0 {
		publicScreens = pipeline.DefaultPublicScreens
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "pixeon/" + Version
	}
	maxWidth := opts.MaxWidth
	if maxWidth <= 0 {
		maxWidth = render.DefaultMaxWidth
	}

	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if opts.HTTPClient != nil {
		pipeOpts = append(pipeOpts, pipeline.WithHTTPClient(opts.HTTPClient))
	}
	pipeOpts = append(pipeOpts, pipeline.WithTimeout(opts.Timeout))
	p := pipeline.New(opts.BaseURL, pipeOpts...)

	screens := pipeline.NewScreenTracker(opts.InitialScreen)
	p.Use(pipeline.RequestID())
	p.Use(pipeline.UserAgent(userAgent))
	p.Use(pipeline.BearerAuth(store))
	p.UseResponse(pipeline.AccessLog(logger))
	p.UseResponse(pipeline.AuthFailureHandler(store, pipeline.NewScreenPolicy(screens.Current, publicScreens), p.Invalidate, logger))

	apiClient := api.NewClient(p)
	mgr := session.NewManager(apiClient, store, session.WithLogger(logger))

	processor := processing.NewProcessorWithClient(opts.HTTPClient)
	detectCfg := detection.DefaultConfig()
	if opts.MaxUploadBytes > 0 {
		detectCfg.MaxUploadBytes = opts.MaxUploadBytes
	}
	if len(opts.AllowedTypes) > 0 {
		detectCfg.AllowedTypes = opts.AllowedTypes
	}

	renderOpts := []render.Option{}
	if opts.Style != nil {
		renderOpts = append(renderOpts, render.WithStyle(*opts.Style))
	}

	c := &Client{
		pipeline:  p,
		api:       apiClient,
		store:     store,
		screens:   screens,
		session:   mgr,
		detector:  detection.NewDetector(apiClient, processor, detectCfg, logger),
		history:   history.NewService(apiClient, p.BaseURL(), logger),
		processor: processor,
		loader:    render.NewLoader(processor),
		renderer:  render.NewRenderer(renderOpts...),
		maxWidth:  maxWidth,
		logger:    logger,
	}
	c.detach = mgr.Attach(p)
	return c, nil
}

// Close detaches the session manager from the pipeline
func (c *Client) Close() {
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
}

// SetScreen records which screen the user is on
func (c *Client) SetScreen(path string) {
	c.screens.Set(path)
}

// Screen returns the current screen
func (c *Client) Screen() string {
	return c.screens.Current()
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.pipeline.BaseURL()
}

// Session exposes the session manager
func (c *Client) Session() *session.Manager {
	return c.session
}

// History exposes the history service
func (c *Client) History() *history.Service {
	return c.history
}

// Detector exposes the detection service
func (c *Client) Detector() *detection.Detector {
	return c.detector
}

// Processor exposes image loading and encoding
func (c *Client) Processor() *processing.Processor {
	return c.processor
}

// OnSession subscribes to session events
func (c *Client) OnSession(fn session.Listener) (unsubscribe func()) {
	return c.session.Subscribe(fn)
}

// Bootstrap resolves the session from the stored credential
func (c *Client) Bootstrap(ctx context.Context) (session.State, error) {
	return c.session.Bootstrap(ctx)
}

// Register creates an account and logs in
func (c *Client) Register(ctx context.Context, username, email, password string) (*types.User, error) {
	return c.session.Register(ctx, username, email, password)
}

// Login starts a session, replacing any current one
func (c *Client) Login(ctx context.Context, username, password string) (*types.User, error) {
	return c.session.Login(ctx, username, password)
}

// Logout ends the session locally
func (c *Client) Logout() {
	c.session.Logout()
}

// CurrentUser returns the signed-in user or nil
func (c *Client) CurrentUser() *types.User {
	return c.session.CurrentUser()
}

// Detect uploads an image and returns its detections
func (c *Client) Detect(ctx context.Context, filename string, data []byte) (*types.DetectionResult, error) {
	return c.detector.Detect(ctx, filename, data)
}

// ImageURL resolves an image reference from a result against the backend
func (c *Client) ImageURL(ref string) string {
	return types.ResolveImageURL(c.BaseURL(), ref)
}

// LoadImage decodes a file path or URL for rendering
func (c *Client) LoadImage(ctx context.Context, src string) (render.ImageHandle, error) {
	return c.loader.Load(ctx, src)
}

// Plan returns the draw commands for boxes over handle
func (c *Client) Plan(handle render.ImageHandle, boxes []types.DetectionBox) []render.Command {
	return c.renderer.Plan(handle, boxes, c.maxWidth)
}

// Render draws boxes over handle and returns the display-sized image
func (c *Client) Render(handle render.ImageHandle, boxes []types.DetectionBox) (*image.NRGBA, error) {
	s := render.NewRasterSurface()
	if err := c.renderer.Render(s, handle, boxes, c.maxWidth); err != nil {
		return nil, err
	}
	return s.Image(), nil
}

// RenderBytes decodes data and renders boxes over it
func (c *Client) RenderBytes(name string, data []byte, boxes []types.DetectionBox) (*image.NRGBA, error) {
	handle, err := c.loader.LoadBytes(name, data)
	if err != nil {
		return nil, err
	}
	return c.Render(handle, boxes)
}

// RenderHistory loads the stored image of a history entry and renders its detections
func (c *Client) RenderHistory(ctx context.Context, entry *history.Entry) (*image.NRGBA, error) {
	handle, err := c.loader.Load(ctx, entry.ImageURL)
	if err != nil {
		return nil, err
	}
	return c.Render(handle, entry.Results.Detections)
}
