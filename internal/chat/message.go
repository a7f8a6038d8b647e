// Package chat implements the session controller: the component that
// owns the realtime connection lifecycle, the in-memory message list for
// the active conversation, the presence/typing/read-receipt maps, the
// optimistic delivery pipeline and the notification-cutoff bookkeeping.
package chat

import (
	"time"

	"github.com/arcadely/chatd/internal/wire"
)

// Sender identifies which side of the conversation produced a message.
const (
	SenderSelf = "self"
	SenderPeer = "peer"
)

// DeliveryStatus tracks an outgoing message through the pipeline.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Pipeline limits.
const (
	// DefaultAckTimeout bounds the wait for a send-acknowledgement.
	DefaultAckTimeout = 10 * time.Second
	// EditWindow is how long after creation a sent text message stays editable.
	EditWindow = 15 * time.Minute
	// TypingIdle is the keystroke-idle timeout before typing=false is published.
	TypingIdle = 1200 * time.Millisecond
	// MaxImageBytes caps image/file/voice uploads.
	MaxImageBytes = 8 << 20
	// MaxVideoBytes caps video uploads.
	MaxVideoBytes = 20 << 20
)

// Message is one chat message, local or remote.
type Message struct {
	Sender   string
	Text     string
	Type     string // wire.TypeText etc.; preview text for non-text types
	MediaURL string
	FileName string
	MimeType string
	Reply    *wire.ReplySnapshot

	// LocalID is the client-generated idempotency token, present while
	// the message is in flight; cleared once the server assigns ServerID.
	LocalID string
	// ServerID is the durable identifier assigned by the backend once
	// persisted; empty for not-yet-acknowledged local messages.
	ServerID string
	// CreatedAt is the server-assigned ordering key (epoch ms); 0 until
	// the ack lands.
	CreatedAt int64
	// LocalAt is the best-effort local timestamp taken at creation.
	// Display-only; never used for merging or ordering decisions.
	LocalAt int64

	Status   DeliveryStatus
	Edited   bool
	EditedAt int64

	// LocalPreview marks media rendered from the raw file before any
	// upload completed. Such a message cannot be resent; the user must
	// re-attach the file.
	LocalPreview bool
}

// Preview returns the list-summary text for a message: the body for text
// messages, a canned tag otherwise.
func (m *Message) Preview() string {
	switch m.Type {
	case "", wire.TypeText:
		return m.Text
	case wire.TypeImage:
		return "[photo]"
	case wire.TypeVideo:
		return "[video]"
	case wire.TypeVoice:
		return "[voice note]"
	case wire.TypeFile:
		return "[file] " + m.FileName
	default:
		return "[attachment]"
	}
}

// fromWire converts an inbound or history frame into a Message, deciding
// self/peer by comparing the sender against the local username.
func fromWire(w *wire.ChatMessage, selfUsername string) Message {
	sender := SenderPeer
	status := StatusSent
	if w.FromUsername == selfUsername {
		sender = SenderSelf
	}
	typ := w.Type
	if typ == "" {
		typ = wire.TypeText
	}
	return Message{
		Sender:    sender,
		Text:      w.Message,
		Type:      typ,
		MediaURL:  w.MediaURL,
		FileName:  w.FileName,
		MimeType:  w.MimeType,
		Reply:     w.Reply,
		ServerID:  w.ServerID,
		CreatedAt: w.CreatedAt,
		Status:    status,
	}
}
