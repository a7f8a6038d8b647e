package notify

import (
	"sync"
	"time"
)

const (
	// DefaultBurst is how many identical-content alerts may fire per window.
	DefaultBurst = 3
	// DefaultWindow is the rolling window for the burst cap.
	DefaultWindow = 15 * time.Second
)

// Limiter caps identical-content alerts to DefaultBurst per rolling
// DefaultWindow, regardless of source. It absorbs duplicate triggers from
// overlapping listeners (focus, online and visibility handlers all firing
// together on resume).
type Limiter struct {
	mu     sync.Mutex
	burst  int
	window time.Duration
	seen   map[string][]time.Time
	now    func() time.Time
}

// NewLimiter creates a limiter with the default burst and window.
func NewLimiter() *Limiter {
	return &Limiter{
		burst:  DefaultBurst,
		window: DefaultWindow,
		seen:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an alert with this exact content may fire now,
// recording it if so.
func (l *Limiter) Allow(title, body string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := title + "\x00" + body
	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.seen[key][:0]
	for _, t := range l.seen[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.burst {
		l.seen[key] = recent
		return false
	}
	l.seen[key] = append(recent, now)
	return true
}
