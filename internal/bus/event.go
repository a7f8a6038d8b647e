package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced:
//
//	conn.*     connection lifecycle (status_changed, error, auth_expired)
//	chat.*     message list changes (message_upserted, send_ack, send_failed, edited, edit_rejected, opened)
//	presence.* presence and typing updates
//	receipt.*  read receipts
//	notify.*   in-app toasts
//	roster.*   conversation list summaries
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
