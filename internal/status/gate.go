package status

import (
	"sync"
	"time"
)

const (
	// DefaultSuppressWindow covers the reconnect churn right after the app
	// becomes visible, regains focus or returns from sleep.
	DefaultSuppressWindow = 5 * time.Second
	// DefaultSurfaceInterval rate-limits surfaced connection errors.
	DefaultSurfaceInterval = 3 * time.Second
)

// Gate decides whether a connection error should be surfaced to the user.
// Errors are never surfaced while the app is hidden, never inside the
// suppression window around a resume trigger, and at most once per
// surface interval otherwise. The transport keeps reconnecting regardless;
// the gate only controls user-facing noise.
type Gate struct {
	mu              sync.Mutex
	suppressWindow  time.Duration
	surfaceInterval time.Duration
	suppressedUntil time.Time
	lastSurfaced    time.Time
	visible         bool
	now             func() time.Time
}

// NewGate creates a gate with default windows. The app starts visible.
func NewGate() *Gate {
	return &Gate{
		suppressWindow:  DefaultSuppressWindow,
		surfaceInterval: DefaultSurfaceInterval,
		visible:         true,
		now:             time.Now,
	}
}

// Suppress opens the suppression window. Called on hidden→visible,
// focus-gained and wake-from-sleep triggers.
func (g *Gate) Suppress() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressedUntil = g.now().Add(g.suppressWindow)
}

// SetVisible records whether the app is currently visible.
func (g *Gate) SetVisible(visible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.visible = visible
}

// ShouldSurface reports whether a connection error occurring now may be
// shown to the user, and if so records the surfacing for rate limiting.
func (g *Gate) ShouldSurface() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.visible {
		return false
	}
	if now.Before(g.suppressedUntil) {
		return false
	}
	if !g.lastSurfaced.IsZero() && now.Sub(g.lastSurfaced) < g.surfaceInterval {
		return false
	}
	g.lastSurfaced = now
	return true
}
