package pipeline

import (
	"strings"
	"sync"
)

// Default screens on which an authentication failure must not tear the session down
var DefaultPublicScreens = []string{"/login", "/register"}

// ScreenFunc reports the screen the user is currently on
type ScreenFunc func() string

// ScreenTracker holds the currently active screen
type ScreenTracker struct {
	mu      sync.RWMutex
	current string
}

// NewScreenTracker creates a tracker positioned on screen
func NewScreenTracker(screen string) *ScreenTracker {
	return &ScreenTracker{current: normalizeScreen(screen)}
}

// Set records a navigation to screen
func (t *ScreenTracker) Set(screen string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = normalizeScreen(screen)
}

// Current returns the active screen
func (t *ScreenTracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// ScreenPolicy decides whether the active screen is one of the public,
// unauthenticated screens
type ScreenPolicy struct {
	current ScreenFunc
	public  map[string]struct{}
}

// NewScreenPolicy builds a policy over the given public screens
func NewScreenPolicy(current ScreenFunc, public []string) *ScreenPolicy {
	set := make(map[string]struct{}, len(public))
	for _, s := range public {
		set[normalizeScreen(s)] = struct{}{}
	}
	return &ScreenPolicy{current: current, public: set}
}

// OnPublicScreen reports whether the active screen is public
func (p *ScreenPolicy) OnPublicScreen() bool {
	if p == nil || p.current == nil {
		return false
	}
	_, ok := p.public[normalizeScreen(p.current())]
	return ok
}

func normalizeScreen(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 1 {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}
