// Package session owns the authenticated-user state of the client.
//
// All transitions go through Manager: Bootstrap once at startup, then
// Register, Login and Logout. Subscribers are told when a session is
// established or ended and decide on their own what to do about it
// (typically navigate).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon/pkg/client"
	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/types"
)

// Status is the session tri-state
type Status int

const (
	StatusUninitialized Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "uninitialized"
	}
}

// State is a snapshot of the session. User is set only when authenticated.
type State struct {
	Status Status
	User   *types.User
}

// Event is emitted on session transitions
type Event int

const (
	EventSessionEstablished Event = iota
	EventSessionEnded
)

func (e Event) String() string {
	if e == EventSessionEstablished {
		return "session established"
	}
	return "session ended"
}

// Listener receives session events together with the new state
type Listener func(Event, State)

// Invalidator is the source of session-invalidated signals, usually the request pipeline
type Invalidator interface {
	Subscribe(fn func()) (unsubscribe func())
}

// Manager holds the session state container
type Manager struct {
	api    client.AuthAPI
	store  credential.Store
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for token expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager in the uninitialized state
func NewManager(api client.AuthAPI, store credential.Store, opts ...Option) *Manager {
	m := &Manager{
		api:       api,
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		listeners: map[int]Listener{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach makes the manager end the session whenever src signals that the
// credential was invalidated
func (m *Manager) Attach(src Invalidator) (detach func()) {
	return src.Subscribe(func() {
		m.logger.Info("session invalidated")
		m.setState(State{Status: StatusAnonymous})
	})
}

// Subscribe registers fn for session events
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// State returns the current session state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentUser returns the authenticated user, or nil
func (m *Manager) CurrentUser() *types.User {
	return m.State().User
}

// Bootstrap resolves the initial state from the stored credential. It always
// leaves the manager authenticated or anonymous; any failure to confirm the
// stored token clears it.
func (m *Manager) Bootstrap(ctx context.Context) (State, error) {
	if st := m.State(); st.Status != StatusUninitialized {
		return st, nil
	}

	token, ok, err := m.store.Load()
	if err != nil {
		m.logger.Warn("failed to read stored credential", zap.Error(err))
		m.dropCredential()
		return m.setState(State{Status: StatusAnonymous}), fmt.Errorf("bootstrap: %w", err)
	}
	if !ok {
		return m.setState(State{Status: StatusAnonymous}), nil
	}

	if claims, ok := credential.Inspect(token); ok && claims.Expired(m.now()) {
		m.logger.Info("stored credential expired", zap.String("subject", claims.Subject), zap.Time("expires_at", claims.ExpiresAt))
		m.dropCredential()
		return m.setState(State{Status: StatusAnonymous}), nil
	}

	user, err := m.api.CurrentUser(ctx)
	if err != nil {
		m.logger.Warn("failed to restore session", zap.Error(err))
		m.dropCredential()
		return m.setState(State{Status: StatusAnonymous}), fmt.Errorf("bootstrap: %w", err)
	}
	return m.setState(State{Status: StatusAuthenticated, User: user}), nil
}

// Register creates an account and then logs in with the same credentials.
// Backend rejections are returned unchanged (ErrValidationFailed).
func (m *Manager) Register(ctx context.Context, username, email, password string) (*types.User, error) {
	if _, err := m.api.Register(ctx, username, email, password); err != nil {
		return nil, err
	}
	m.logger.Info("account registered", zap.String("username", username))
	return m.Login(ctx, username, password)
}

// Login authenticates, stores the token and fetches the user. It supersedes
// any existing session. Success is reported only after the user fetch.
func (m *Manager) Login(ctx context.Context, username, password string) (*types.User, error) {
	tok, err := m.api.Login(ctx, username, password)
	if err != nil {
		m.failLogin(err)
		return nil, err
	}

	if err := m.store.Save(tok.AccessToken); err != nil {
		m.failLogin(err)
		return nil, fmt.Errorf("login: failed to store credential: %w", err)
	}

	user, err := m.api.CurrentUser(ctx)
	if err != nil {
		// The token never became a usable session
		m.dropCredential()
		m.setState(State{Status: StatusAnonymous})
		return nil, err
	}

	m.setState(State{Status: StatusAuthenticated, User: user})
	m.logger.Info("logged in", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	return user, nil
}

// Logout ends the session locally. No backend call is made.
func (m *Manager) Logout() {
	m.dropCredential()
	m.setState(State{Status: StatusAnonymous})
	m.logger.Info("logged out")
}

// failLogin applies the state change for a login that did not get a token.
// A transient network failure leaves the current session alone.
func (m *Manager) failLogin(err error) {
	if errors.Is(err, types.ErrNetworkUnavailable) {
		return
	}
	m.dropCredential()
	m.setState(State{Status: StatusAnonymous})
}

func (m *Manager) dropCredential() {
	if err := m.store.Clear(); err != nil {
		m.logger.Error("failed to clear credential", zap.Error(err))
	}
}

// setState stores next and notifies listeners when the session was
// established or ended by this transition
func (m *Manager) setState(next State) State {
	m.mu.Lock()
	prev := m.state
	m.state = next

	var fire bool
	var ev Event
	switch {
	case next.Status == StatusAuthenticated:
		fire, ev = true, EventSessionEstablished
	case prev.Status == StatusAuthenticated && next.Status == StatusAnonymous:
		fire, ev = true, EventSessionEnded
	}

	var fns []Listener
	if fire {
		for i := 0; i < m.nextID; i++ {
			if fn, ok := m.listeners[i]; ok {
				fns = append(fns, fn)
			}
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev, next)
	}
	return next
}
