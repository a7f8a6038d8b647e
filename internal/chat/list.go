package chat

// The message list is mutated only through the pure functions below.
// Every transport callback, timer and UI action computes the next list
// from the previous one, so back-to-back async callbacks cannot lose
// updates. Functions return a fresh slice; the input is never modified.

// appendLocal appends an optimistic local message at list-tail. Before
// the ack lands a queued message sits at the tail regardless of
// timestamp; ordering by CreatedAt takes over once assigned.
func appendLocal(list []Message, m Message) []Message {
	out := make([]Message, len(list), len(list)+1)
	copy(out, list)
	return append(out, m)
}

// applyAck resolves a send-acknowledgement against the pending message
// with the matching LocalID. It applies only while the message is still
// pending: an ack arriving after the timeout already failed the message
// changes nothing, and vice versa. Returns the new list and whether an
// entry was updated.
func applyAck(list []Message, localID string, success bool, serverID string, createdAt int64) ([]Message, bool) {
	for i := range list {
		if list[i].LocalID != localID || list[i].Status != StatusPending {
			continue
		}
		out := make([]Message, len(list))
		copy(out, list)
		if success {
			out[i].Status = StatusSent
			out[i].ServerID = serverID
			out[i].CreatedAt = createdAt
			out[i].LocalID = ""
		} else {
			out[i].Status = StatusFailed
		}
		return out, true
	}
	return list, false
}

// markFailed fails the pending message with the given LocalID. A no-op
// when the message was already acked or failed.
func markFailed(list []Message, localID string) ([]Message, bool) {
	for i := range list {
		if list[i].LocalID != localID || list[i].Status != StatusPending {
			continue
		}
		out := make([]Message, len(list))
		copy(out, list)
		out[i].Status = StatusFailed
		return out, true
	}
	return list, false
}

// mergeInbound applies an authoritative inbound message. Matching order:
//  1. ServerID: an entry already carrying this id is updated in place,
//     so replayed broadcasts after a reconnect apply once.
//  2. Echo heuristic: a same-sender, same-content entry with no
//     CreatedAt yet is treated as the optimistic echo of this message
//     and merged. Heuristic, not identity: see the known limitation for
//     rapid duplicate sends of identical text.
//  3. Otherwise the message is appended.
//
// Returns the new list and whether the message merged into an existing
// entry (false means appended).
func mergeInbound(list []Message, in Message) ([]Message, bool) {
	if in.ServerID != "" {
		for i := range list {
			if list[i].ServerID == in.ServerID {
				out := make([]Message, len(list))
				copy(out, list)
				merged := in
				merged.LocalID = list[i].LocalID
				out[i] = merged
				return out, true
			}
		}
	}
	for i := range list {
		if list[i].Sender == in.Sender && list[i].Text == in.Text && list[i].CreatedAt == 0 {
			out := make([]Message, len(list))
			copy(out, list)
			out[i].ServerID = in.ServerID
			out[i].CreatedAt = in.CreatedAt
			out[i].Status = StatusSent
			out[i].LocalID = ""
			return out, true
		}
	}
	return appendLocal(list, in), false
}

// applyEdit mutates the message with the given ServerID in place.
func applyEdit(list []Message, serverID, newText string, editedAt int64) ([]Message, bool) {
	for i := range list {
		if list[i].ServerID != serverID {
			continue
		}
		out := make([]Message, len(list))
		copy(out, list)
		out[i].Text = newText
		out[i].Edited = true
		out[i].EditedAt = editedAt
		return out, true
	}
	return list, false
}

// visible filters out messages at or below the clear cutoff. The boundary
// is exclusive: a message with CreatedAt equal to the cutoff is hidden.
// Pending local messages (no CreatedAt yet) are always visible.
func visible(list []Message, clearCutoff int64) []Message {
	if clearCutoff <= 0 {
		return list
	}
	var out []Message
	for _, m := range list {
		if m.CreatedAt == 0 || m.CreatedAt > clearCutoff {
			out = append(out, m)
		}
	}
	return out
}

// newestInboundAt returns the max CreatedAt among peer-sent messages,
// or 0 when there are none. Drives read-receipt publishing.
func newestInboundAt(list []Message) int64 {
	var max int64
	for _, m := range list {
		if m.Sender == SenderPeer && m.CreatedAt > max {
			max = m.CreatedAt
		}
	}
	return max
}
