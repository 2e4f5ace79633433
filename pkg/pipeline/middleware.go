package pipeline

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/credential"
)

const (
	AuthorizationHeaderKey  = "Authorization"
	AuthorizationTypeBearer = "Bearer"
	RequestIDHeaderKey      = "X-Request-ID"
)

// BearerAuth attaches the stored token as a bearer credential. Requests go
// out unauthenticated when the store is empty.
func BearerAuth(store credential.Store) RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		token, ok, err := store.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			req.Header.Set(AuthorizationHeaderKey, AuthorizationTypeBearer+" "+token)
		}
		return req, nil
	}
}

// RequestID stamps every request with a fresh correlation id
func RequestID() RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		if req.Header.Get(RequestIDHeaderKey) == "" {
			req.Header.Set(RequestIDHeaderKey, uuid.NewString())
		}
		return req, nil
	}
}

// UserAgent sets the User-Agent header
func UserAgent(ua string) RequestMiddleware {
	return func(req *http.Request) (*http.Request, error) {
		req.Header.Set("User-Agent", ua)
		return req, nil
	}
}

// AuthFailureHandler tears the session down on a 401: the credential is
// cleared and invalidate is called once. While the user is on a public
// screen (login, register) the response passes through untouched so the
// screen used to re-authenticate does not loop. Responses that never
// arrived are not authentication failures and are ignored here.
func AuthFailureHandler(store credential.Store, screens *ScreenPolicy, invalidate func(), logger *zap.Logger) ResponseMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(req *http.Request, resp *http.Response, err error) (*http.Response, error) {
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		if screens.OnPublicScreen() {
			logger.Debug("authentication failure on public screen, passing through",
				zap.String("path", req.URL.Path))
			return resp, err
		}

		if clearErr := store.Clear(); clearErr != nil {
			logger.Error("failed to clear credential", zap.Error(clearErr))
		}
		logger.Info("session invalidated by authentication failure",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path))
		if invalidate != nil {
			invalidate()
		}
		return resp, err
	}
}

// AccessLog logs every request with its outcome and duration
func AccessLog(logger *zap.Logger) ResponseMiddleware {
	return func(req *http.Request, resp *http.Response, err error) (*http.Response, error) {
		var cost time.Duration
		if started, ok := StartedAt(req); ok {
			cost = time.Since(started)
		}
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("query", req.URL.RawQuery),
			zap.String("request_id", req.Header.Get(RequestIDHeaderKey)),
			zap.Duration("cost", cost),
		}
		if resp == nil {
			logger.Warn("request failed without response", append(fields, zap.Error(err))...)
			return resp, err
		}
		logger.Debug("request", append(fields, zap.Int("status", resp.StatusCode))...)
		return resp, err
	}
}
