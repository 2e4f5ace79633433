package client

import (
	"context"

	"github.com/shirasu0801/pixeon/pkg/types"
)

// AuthAPI is the backend surface used by the session manager
type AuthAPI interface {
	Register(ctx context.Context, username, email, password string) (*types.User, error)
	Login(ctx context.Context, username, password string) (*types.TokenResponse, error)
	CurrentUser(ctx context.Context) (*types.User, error)
}

// DetectionAPI submits images for detection
type DetectionAPI interface {
	Detect(ctx context.Context, filename string, data []byte) (*types.DetectionResult, error)
}

// HistoryAPI browses and deletes stored detections
type HistoryAPI interface {
	ListHistory(ctx context.Context, skip, limit int) ([]types.HistoryRecord, error)
	GetHistory(ctx context.Context, id int64) (*types.HistoryRecord, error)
	DeleteHistory(ctx context.Context, id int64) error
}
