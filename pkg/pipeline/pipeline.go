// Package pipeline is the single path from the client to the backend.
//
// Every request runs through an ordered list of request middlewares before it
// is sent and an ordered list of response middlewares after the transport
// returns. The outcome is then classified once into the error taxonomy of
// pkg/types, so callers never look at raw status codes or transport errors.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/types"
)

// RequestMiddleware transforms an outgoing request
type RequestMiddleware func(*http.Request) (*http.Request, error)

// ResponseMiddleware observes or transforms the transport outcome. resp is
// nil when no response was received, in which case err is the transport error.
type ResponseMiddleware func(req *http.Request, resp *http.Response, err error) (*http.Response, error)

// Response is a fully read, successful backend response
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	method string
	path   string
}

// DecodeJSON unmarshals the response body into v. A body that does not match
// v is reported as ErrBackendError.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &types.RequestError{
			Kind:   types.ErrBackendError,
			Method: r.method,
			Path:   r.path,
			Status: r.Status,
			Err:    fmt.Errorf("failed to parse response: %w", err),
		}
	}
	return nil
}

// Pipeline sends requests to one backend through the configured middleware chain
type Pipeline struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger

	outbound []RequestMiddleware
	inbound  []ResponseMiddleware

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithHTTPClient replaces the transport client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.httpClient = c }
}

// WithTimeout sets an overall request timeout. Zero keeps the client's own
// timeout. It applies to whichever client the pipeline ends up with.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithLogger sets the logger used by the pipeline
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline for the backend at baseURL with an empty chain
func New(baseURL string, opts ...Option) *Pipeline {
	p := &Pipeline{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
		listeners:  map[int]func(){},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{}
	}
	if p.timeout > 0 {
		c := *p.httpClient
		c.Timeout = p.timeout
		p.httpClient = &c
	}
	return p
}

// BaseURL returns the backend base URL without a trailing slash
func (p *Pipeline) BaseURL() string {
	return p.baseURL
}

// Use appends request middlewares to the outbound stage
func (p *Pipeline) Use(m ...RequestMiddleware) {
	p.outbound = append(p.outbound, m...)
}

// UseResponse appends response middlewares to the inbound stage
func (p *Pipeline) UseResponse(m ...ResponseMiddleware) {
	p.inbound = append(p.inbound, m...)
}

// Subscribe registers fn to be called whenever the session is invalidated by
// an authentication failure. The returned func removes the registration.
func (p *Pipeline) Subscribe(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Invalidate fires the session-invalidated signal
func (p *Pipeline) Invalidate() {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.listeners))
	for i := 0; i < p.nextID; i++ {
		if fn, ok := p.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// NewRequest builds a request for path relative to the base URL
func (p *Pipeline) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

// Do runs req through the chain and returns the response or a classified error
func (p *Pipeline) Do(req *http.Request) (*Response, error) {
	req = req.WithContext(context.WithValue(req.Context(), startedAtKey{}, time.Now()))

	var err error
	for _, m := range p.outbound {
		if req, err = m(req); err != nil {
			return nil, fmt.Errorf("failed to prepare request: %w", err)
		}
	}

	resp, err := p.httpClient.Do(req)
	for _, m := range p.inbound {
		resp, err = m(req, resp, err)
	}

	out, err := classify(req, resp, err)
	if err != nil {
		p.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
	}
	return out, err
}

// Timeout returns the overall request timeout, zero when none is set
func (p *Pipeline) Timeout() time.Duration {
	return p.httpClient.Timeout
}

type startedAtKey struct{}

// StartedAt returns when the pipeline started processing req
func StartedAt(req *http.Request) (time.Time, bool) {
	t, ok := req.Context().Value(startedAtKey{}).(time.Time)
	return t, ok
}
