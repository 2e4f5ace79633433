package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/shirasu0801/pixeon/pkg/types"
)

const maxDetailLen = 512

// classify turns a transport outcome into a Response or a *types.RequestError
func classify(req *http.Request, resp *http.Response, err error) (*Response, error) {
	base := types.RequestError{Method: req.Method, Path: req.URL.Path}

	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response")
		}
		base.Kind = types.ErrNetworkUnavailable
		base.Err = err
		return nil, &base
	}
	defer resp.Body.Close()

	// A middleware rejected a response that did arrive
	if err != nil {
		return nil, err
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		base.Kind = types.ErrNetworkUnavailable
		base.Status = resp.StatusCode
		base.Err = fmt.Errorf("failed to read response: %w", readErr)
		return nil, &base
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body, method: req.Method, path: req.URL.Path}, nil
	}

	base.Status = resp.StatusCode
	base.Detail = parseDetail(body)
	base.Kind = kindForStatus(resp.StatusCode)
	return nil, &base
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return types.ErrAuthenticationFailed
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return types.ErrValidationFailed
	default:
		return types.ErrBackendError
	}
}

// parseDetail extracts the backend's detail message. Both the plain string
// form and the list-of-issues form used for request validation are handled.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return truncate(strings.TrimSpace(string(body)))
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}

	var issues []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &issues); err == nil {
		msgs := make([]string, 0, len(issues))
		for _, is := range issues {
			if is.Msg != "" {
				msgs = append(msgs, is.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	return truncate(string(payload.Detail))
}

// truncate cuts s to at most maxDetailLen bytes without splitting a rune
func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
