// Package wire defines the JSON frame schema spoken over the realtime
// channel and strict decode helpers for inbound frames. A frame that
// fails to decode is dropped by the caller with a diagnostic log; it
// must never crash the session or stall a subscription.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message type strings carried in the "type" field. Absence defaults to text.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeVoice = "voice"
	TypeFile  = "file"
)

// PresenceUpdate is sent on presence destinations and received on both
// the broadcast topic and the direct presence queue.
type PresenceUpdate struct {
	Username   string `json:"username"`
	Status     string `json:"status"` // "online" or "offline"
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
}

// ReplySnapshot is a copied reference to the message being replied to,
// not a live link.
type ReplySnapshot struct {
	Text       string `json:"text"`
	SenderName string `json:"senderName"`
}

// ChatMessage is the send-message frame and the inbound message frame.
// TempID is the client-generated idempotency token; the server echoes it
// back in the SendAck.
type ChatMessage struct {
	ToUsername   string         `json:"toUsername,omitempty"`
	FromUsername string         `json:"fromUsername,omitempty"`
	Message      string         `json:"message"`
	TempID       string         `json:"tempId,omitempty"`
	Type         string         `json:"type,omitempty"`
	MediaURL     string         `json:"mediaUrl,omitempty"`
	FileName     string         `json:"fileName,omitempty"`
	MimeType     string         `json:"mimeType,omitempty"`
	Reply        *ReplySnapshot `json:"replyTo,omitempty"`
	ServerID     string         `json:"serverId,omitempty"`
	CreatedAt    int64          `json:"createdAt,omitempty"`
}

// Typing signals the peer's composer state. An explicit typing=false is
// sent when input empties, on idle timeout and on send.
type Typing struct {
	FromUsername string `json:"fromUsername,omitempty"`
	ToUsername   string `json:"toUsername,omitempty"`
	Typing       bool   `json:"typing"`
}

// EditMessage requests a server-side edit of an already persisted message.
type EditMessage struct {
	ServerID   string `json:"serverId"`
	ToUsername string `json:"toUsername"`
	NewText    string `json:"newText"`
}

// SendAck confirms the server-side outcome of a ChatMessage send.
type SendAck struct {
	TempID    string `json:"tempId"`
	Success   bool   `json:"success"`
	ServerID  string `json:"serverId,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EditBroadcast announces a confirmed edit to both participants.
type EditBroadcast struct {
	ServerID string `json:"serverId"`
	NewText  string `json:"newText"`
	EditedAt int64  `json:"editedAt,omitempty"`
}

// EditAck reports the outcome of an EditMessage request.
type EditAck struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ReadReceipt carries the max timestamp the reader has acknowledged.
type ReadReceipt struct {
	ReaderUsername string `json:"readerUsername,omitempty"`
	PeerUsername   string `json:"peerUsername,omitempty"`
	ReadAt         int64  `json:"readAt"`
}

// DecodePresence parses and validates an inbound presence frame.
func DecodePresence(data []byte) (*PresenceUpdate, error) {
	var p PresenceUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("presence frame: %w", err)
	}
	if p.Username == "" {
		return nil, fmt.Errorf("presence frame: missing username")
	}
	if p.Status != "online" && p.Status != "offline" {
		return nil, fmt.Errorf("presence frame: bad status %q", p.Status)
	}
	return &p, nil
}

// DecodeChatMessage parses and validates an inbound message frame.
// An absent type defaults to text.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("message frame: %w", err)
	}
	if m.FromUsername == "" {
		return nil, fmt.Errorf("message frame: missing fromUsername")
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	return &m, nil
}

// DecodeTyping parses and validates an inbound typing frame.
func DecodeTyping(data []byte) (*Typing, error) {
	var ty Typing
	if err := json.Unmarshal(data, &ty); err != nil {
		return nil, fmt.Errorf("typing frame: %w", err)
	}
	if ty.FromUsername == "" {
		return nil, fmt.Errorf("typing frame: missing fromUsername")
	}
	return &ty, nil
}

// DecodeSendAck parses and validates an inbound send-acknowledgement.
func DecodeSendAck(data []byte) (*SendAck, error) {
	var a SendAck
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("send ack frame: %w", err)
	}
	if a.TempID == "" {
		return nil, fmt.Errorf("send ack frame: missing tempId")
	}
	if a.Success && a.ServerID == "" {
		return nil, fmt.Errorf("send ack frame: success without serverId")
	}
	return &a, nil
}

// DecodeEditBroadcast parses and validates an inbound edit broadcast.
func DecodeEditBroadcast(data []byte) (*EditBroadcast, error) {
	var e EditBroadcast
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("edit frame: %w", err)
	}
	if e.ServerID == "" {
		return nil, fmt.Errorf("edit frame: missing serverId")
	}
	return &e, nil
}

// DecodeEditAck parses an inbound edit-acknowledgement.
func DecodeEditAck(data []byte) (*EditAck, error) {
	var a EditAck
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("edit ack frame: %w", err)
	}
	return &a, nil
}

// DecodeReadReceipt parses and validates an inbound read receipt.
func DecodeReadReceipt(data []byte) (*ReadReceipt, error) {
	var r ReadReceipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("read receipt frame: %w", err)
	}
	if r.ReaderUsername == "" {
		return nil, fmt.Errorf("read receipt frame: missing readerUsername")
	}
	if r.ReadAt <= 0 {
		return nil, fmt.Errorf("read receipt frame: missing readAt")
	}
	return &r, nil
}
