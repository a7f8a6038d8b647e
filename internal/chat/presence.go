package chat

import "github.com/arcadely/chatd/internal/wire"

// Presence is the in-memory view of one peer's availability.
type Presence struct {
	Status     string // "online" or "offline"
	LastSeenAt int64  // epoch ms, 0 = unknown
}

// The presence, typing and read-receipt maps follow the same reducer
// discipline as the message list: copy-on-write pure functions, one per
// map, with every transport callback and timer expressed as an event.

// reducePresence merges one presence update. Status reflects the newest
// event; LastSeenAt never moves backward, so a stale broadcast racing a
// fresher direct snapshot cannot regress the map.
func reducePresence(m map[string]Presence, ev *wire.PresenceUpdate) map[string]Presence {
	out := make(map[string]Presence, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	cur := out[ev.Username]
	next := Presence{Status: ev.Status, LastSeenAt: ev.LastSeenAt}
	if cur.LastSeenAt > next.LastSeenAt {
		next.LastSeenAt = cur.LastSeenAt
	}
	out[ev.Username] = next
	return out
}

// reduceTyping sets or clears one peer's transient typing flag.
func reduceTyping(m map[string]bool, username string, typing bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if typing {
		out[username] = true
	} else {
		delete(out, username)
	}
	return out
}

// reduceSeen advances one peer's acknowledged-read watermark. Monotonic:
// an older receipt is a no-op.
func reduceSeen(m map[string]int64, username string, readAt int64) map[string]int64 {
	if readAt <= m[username] {
		return m
	}
	out := make(map[string]int64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[username] = readAt
	return out
}
