package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Timestamp is a backend time value. Besides RFC3339 it accepts the
// timezone-less forms SQLite-backed servers emit, which are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// UnmarshalJSON parses a JSON string in any of the accepted layouts
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// User is the account snapshot returned by the backend
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt Timestamp `json:"created_at"`
}

// TokenResponse is the body returned by a successful login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// DetectionBox is a labeled region in source-image pixel coordinates
type DetectionBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Width returns the horizontal extent of the box
func (b DetectionBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box
func (b DetectionBox) Height() float64 {
	return b.Y2 - b.Y1
}

// DetectionResult is the response of a detection request
type DetectionResult struct {
	ID             *int64         `json:"id,omitempty"`
	ImageURL       string         `json:"image_url"`
	Detections     []DetectionBox `json:"detections"`
	ProcessingTime float64        `json:"processing_time"`
}

// HistoryRecord is a stored detection as listed by the history endpoints
type HistoryRecord struct {
	ID               int64     `json:"id"`
	ImagePath        string    `json:"image_path"`
	DetectionResults string    `json:"detection_results"`
	CreatedAt        Timestamp `json:"created_at"`
}

// StoredResults is the JSON document kept in HistoryRecord.DetectionResults
type StoredResults struct {
	Detections     []DetectionBox `json:"detections"`
	ProcessingTime float64        `json:"processing_time"`
}

// Results decodes the stored detection payload of the record
func (r HistoryRecord) Results() (StoredResults, error) {
	var out StoredResults
	if strings.TrimSpace(r.DetectionResults) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.DetectionResults), &out); err != nil {
		return StoredResults{}, fmt.Errorf("failed to decode detection results of record %d: %w", r.ID, err)
	}
	return out, nil
}

// ResolveImageURL turns a relative image reference such as /uploads/a.jpg into
// an absolute URL on the API host. Absolute references are returned unchanged.
func ResolveImageURL(baseURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
