package chat

import (
	"testing"

	"github.com/arcadely/chatd/internal/wire"
)

func TestReducePresenceLastSeenNeverRegresses(t *testing.T) {
	m := map[string]Presence{}
	m = reducePresence(m, &wire.PresenceUpdate{Username: "bob", Status: "online", LastSeenAt: 200})

	// Stale broadcast racing a fresher snapshot: status follows the
	// newest event, lastSeen keeps the max.
	m = reducePresence(m, &wire.PresenceUpdate{Username: "bob", Status: "offline", LastSeenAt: 100})

	got := m["bob"]
	if got.Status != "offline" {
		t.Errorf("status = %q, want offline (newest event wins)", got.Status)
	}
	if got.LastSeenAt != 200 {
		t.Errorf("lastSeenAt = %d, want 200 (never backward)", got.LastSeenAt)
	}
}

func TestReduceTyping(t *testing.T) {
	m := map[string]bool{}
	m = reduceTyping(m, "bob", true)
	if !m["bob"] {
		t.Fatal("typing not set")
	}
	m = reduceTyping(m, "bob", false)
	if _, ok := m["bob"]; ok {
		t.Error("typing=false should remove the entry")
	}
}

func TestReduceSeenMonotonic(t *testing.T) {
	m := map[string]int64{}
	m = reduceSeen(m, "bob", 300)
	m = reduceSeen(m, "bob", 100)
	if m["bob"] != 300 {
		t.Errorf("seen = %d, want 300 (older receipt is a no-op)", m["bob"])
	}
}
