// Package notify abstracts user-visible alerts behind a Sink interface
// with platform variants, plus the dedup bookkeeping that keeps bursty
// triggers from spamming the user.
package notify

import (
	"os/exec"
	"time"

	"github.com/arcadely/chatd/internal/bus"
)

// Sink delivers one user-visible alert. Notify reports whether the alert
// was actually delivered. The controller is agnostic to which variant is
// behind the interface; the variant is selected once at startup.
type Sink interface {
	Notify(title, body string) bool
}

// CommandSink shells out to a desktop notification command (notify-send).
type CommandSink struct {
	path string
}

// NewCommandSink probes for notify-send. Returns nil when unavailable.
func NewCommandSink() *CommandSink {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return nil
	}
	return &CommandSink{path: path}
}

func (s *CommandSink) Notify(title, body string) bool {
	return exec.Command(s.path, title, body).Run() == nil
}

// BusSink publishes an in-app toast on the event bus. Used when no
// desktop notifier is available, and as the degraded fallback after a
// permission denial.
type BusSink struct {
	bus *bus.Bus
}

func NewBusSink(b *bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

// Toast is the payload of notify.toast events.
type Toast struct {
	Title string
	Body  string
}

func (s *BusSink) Notify(title, body string) bool {
	s.bus.Publish(bus.Event{
		Kind:      "notify.toast",
		Timestamp: time.Now(),
		Payload:   Toast{Title: title, Body: body},
	})
	return true
}

// NoopSink swallows alerts. Used when notifications are disabled outright.
type NoopSink struct{}

func (NoopSink) Notify(string, string) bool { return false }

// PickSink selects the best available variant: desktop notifier when
// present, in-app toasts otherwise.
func PickSink(b *bus.Bus) Sink {
	if s := NewCommandSink(); s != nil {
		return s
	}
	return NewBusSink(b)
}
