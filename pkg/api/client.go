package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirasu0801/pixeon/pkg/pipeline"
	"github.com/shirasu0801/pixeon/pkg/types"
)

const (
	registerPath = "/api/auth/register"
	loginPath    = "/api/auth/login"
	mePath       = "/api/auth/me"
	detectPath   = "/api/detect"
	historyPath  = "/api/history"
)

// Client calls the backend endpoints. Every call goes through the pipeline.
type Client struct {
	pipeline *pipeline.Pipeline
}

// NewClient creates a client on top of p
func NewClient(p *pipeline.Pipeline) *Client {
	return &Client{pipeline: p}
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.pipeline.BaseURL()
}

// Register creates an account. It does not establish a session.
func (c *Client) Register(ctx context.Context, username, email, password string) (*types.User, error) {
	payload := struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}{username, email, password}

	var user types.User
	if err := c.sendJSON(ctx, http.MethodPost, registerPath, payload, &user); err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}
	return &user, nil
}

// Login exchanges credentials for a bearer token
func (c *Client) Login(ctx context.Context, username, password string) (*types.TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.pipeline.NewRequest(ctx, http.MethodPost, loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	var token types.TokenResponse
	if err := resp.DecodeJSON(&token); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("login failed: %w", &types.RequestError{
			Kind: types.ErrBackendError, Method: http.MethodPost, Path: loginPath,
			Status: resp.Status, Detail: "response carried no access token",
		})
	}
	return &token, nil
}

// CurrentUser fetches the user the stored token belongs to
func (c *Client) CurrentUser(ctx context.Context) (*types.User, error) {
	var user types.User
	if err := c.sendJSON(ctx, http.MethodGet, mePath, nil, &user); err != nil {
		return nil, fmt.Errorf("fetch current user failed: %w", err)
	}
	return &user, nil
}

// Detect uploads an image in the multipart field "file"
func (c *Client) Detect(ctx context.Context, filename string, data []byte) (*types.DetectionResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// The backend checks the part content type, so it must not default to octet-stream
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(filename))))
	header.Set("Content-Type", http.DetectContentType(data))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.pipeline.NewRequest(ctx, http.MethodPost, detectPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect failed: %w", err)
	}

	var result types.DetectionResult
	if err := resp.DecodeJSON(&result); err != nil {
		return nil, fmt.Errorf("detect failed: %w", err)
	}
	return &result, nil
}

// ListHistory returns one page of stored detections, newest first
func (c *Client) ListHistory(ctx context.Context, skip, limit int) ([]types.HistoryRecord, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	var records []types.HistoryRecord
	if err := c.sendJSON(ctx, http.MethodGet, historyPath+"?"+q.Encode(), nil, &records); err != nil {
		return nil, fmt.Errorf("list history failed: %w", err)
	}
	return records, nil
}

// GetHistory returns one stored detection
func (c *Client) GetHistory(ctx context.Context, id int64) (*types.HistoryRecord, error) {
	var record types.HistoryRecord
	if err := c.sendJSON(ctx, http.MethodGet, historyItemPath(id), nil, &record); err != nil {
		return nil, fmt.Errorf("get history %d failed: %w", id, err)
	}
	return &record, nil
}

// DeleteHistory removes one stored detection
func (c *Client) DeleteHistory(ctx context.Context, id int64) error {
	if err := c.sendJSON(ctx, http.MethodDelete, historyItemPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete history %d failed: %w", id, err)
	}
	return nil
}

// sendJSON sends payload (if any) as JSON and decodes the response into out (if any)
func (c *Client) sendJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := c.pipeline.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	return resp.DecodeJSON(out)
}

func historyItemPath(id int64) string {
	return historyPath + "/" + strconv.FormatInt(id, 10)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
