package notify

import "fmt"

// Notifier fronts a Sink with the permission gate and the
// identical-content rate limiter.
type Notifier struct {
	sink    Sink
	limiter *Limiter
	// granted reports whether the user has allowed notifications.
	// Checked before every delivery; denial degrades to nothing rather
	// than erroring.
	granted func() bool
}

// NewNotifier wires a sink behind the limiter. granted may be nil, which
// means always allowed.
func NewNotifier(sink Sink, granted func() bool) *Notifier {
	return &Notifier{
		sink:    sink,
		limiter: NewLimiter(),
		granted: granted,
	}
}

// Notify delivers an alert if permitted and not rate-limited. Returns
// whether the alert was delivered.
func (n *Notifier) Notify(title, body string) bool {
	if n.granted != nil && !n.granted() {
		return false
	}
	if !n.limiter.Allow(title, body) {
		return false
	}
	return n.sink.Notify(title, body)
}

// NotifyCount delivers the aggregated missed-message alert: exactly one
// "N new messages" notification per resume scan, never one per message.
func (n *Notifier) NotifyCount(peer string, count int) bool {
	if count <= 0 {
		return false
	}
	body := fmt.Sprintf("%d new messages", count)
	if count == 1 {
		body = "1 new message"
	}
	return n.Notify(peer, body)
}
