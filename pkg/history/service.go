// Package history browses detections stored by the backend.
package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/client"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// DefaultPageSize is the page size used when none is given
const DefaultPageSize = 20

// Entry is a history record with its payload decoded and image URL resolved
type Entry struct {
	Record   types.HistoryRecord
	Results  types.StoredResults
	ImageURL string
	// DecodeErr is set when the stored payload could not be decoded
	DecodeErr error
}

// Service lists, shows and deletes stored detections
type Service struct {
	api     client.HistoryAPI
	baseURL string
	logger  *zap.Logger
}

// NewService creates a history service. baseURL resolves relative image paths.
func NewService(api client.HistoryAPI, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{api: api, baseURL: baseURL, logger: logger}
}

// List returns one page, newest first. Negative skip and non-positive
// limit fall back to 0 and DefaultPageSize.
func (s *Service) List(ctx context.Context, skip, limit int) ([]Entry, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	records, err := s.api.ListHistory(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, s.entry(rec))
	}
	return entries, nil
}

// Get returns one stored detection
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	rec, err := s.api.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	e := s.entry(*rec)
	if e.DecodeErr != nil {
		return &e, fmt.Errorf("history %d: %w", id, e.DecodeErr)
	}
	return &e, nil
}

// Delete removes one stored detection
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteHistory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("history record deleted", zap.Int64("id", id))
	return nil
}

func (s *Service) entry(rec types.HistoryRecord) Entry {
	e := Entry{Record: rec, ImageURL: types.ResolveImageURL(s.baseURL, rec.ImagePath)}
	results, err := rec.Results()
	if err != nil {
		s.logger.Warn("undecodable history payload", zap.Int64("id", rec.ID), zap.Error(err))
		e.DecodeErr = err
		return e
	}
	e.Results = results
	return e
}
