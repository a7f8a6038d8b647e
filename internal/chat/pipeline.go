package chat

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcadely/chatd/internal/bus"
	"github.com/arcadely/chatd/internal/history"
	"github.com/arcadely/chatd/internal/wire"
)

var (
	// ErrEmptyMessage rejects whitespace-only text sends.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrMediaTooLarge rejects media over the type-specific ceiling
	// before any upload is attempted.
	ErrMediaTooLarge = errors.New("chat: media exceeds size limit")
	// ErrNoSuchMessage means no message matched the given id.
	ErrNoSuchMessage = errors.New("chat: no such message")
	// ErrNotEditable covers every edit precondition except the window:
	// peer-sent, non-text, failed, or not yet persisted.
	ErrNotEditable = errors.New("chat: message not editable")
	// ErrEditWindowExpired rejects edits of messages older than EditWindow.
	ErrEditWindowExpired = errors.New("chat: edit window expired")
	// ErrReattachRequired rejects resend of media that never finished
	// uploading; only a local preview exists.
	ErrReattachRequired = errors.New("chat: media must be re-attached")
)

// SendText sends a text message to the active peer, optimistically.
// Returns the LocalID of the in-flight message.
func (c *Controller) SendText(text string, reply *wire.ReplySnapshot) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	peer := c.activePeer
	c.mu.Unlock()
	if peer == "" {
		return "", ErrNoSuchMessage
	}

	localID := uuid.NewString()
	msg := Message{
		Sender:  SenderSelf,
		Text:    text,
		Type:    wire.TypeText,
		Reply:   reply,
		LocalID: localID,
		LocalAt: c.now().UnixMilli(),
		Status:  StatusPending,
	}

	c.mu.Lock()
	c.messages = appendLocal(c.messages, msg)
	c.mu.Unlock()

	// Sending ends the typing state immediately.
	c.setLocalTyping(false)

	c.publishSend(peer, &msg)
	return localID, nil
}

// SendMedia validates, previews, uploads and sends a media message. The
// local preview is visible before any network call; an upload failure
// marks the message failed with no automatic retry.
func (c *Controller) SendMedia(ctx context.Context, fileName, mimeType string, data []byte, previewURL string) (string, error) {
	typ := mediaType(mimeType)
	if int64(len(data)) > mediaCeiling(typ) {
		return "", ErrMediaTooLarge
	}

	c.mu.Lock()
	peer := c.activePeer
	c.mu.Unlock()
	if peer == "" {
		return "", ErrNoSuchMessage
	}

	localID := uuid.NewString()
	msg := Message{
		Sender:       SenderSelf,
		Type:         typ,
		MediaURL:     previewURL,
		FileName:     fileName,
		MimeType:     mimeType,
		LocalID:      localID,
		LocalAt:      c.now().UnixMilli(),
		Status:       StatusPending,
		LocalPreview: true,
	}

	c.mu.Lock()
	c.messages = appendLocal(c.messages, msg)
	c.mu.Unlock()

	info, err := c.hist.UploadMedia(ctx, fileName, mimeType, bytes.NewReader(data))
	if err != nil {
		c.failLocal(localID)
		if errors.Is(err, history.ErrTooLarge) {
			return localID, ErrMediaTooLarge
		}
		return localID, err
	}

	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].LocalID == localID {
			out := make([]Message, len(c.messages))
			copy(out, c.messages)
			out[i].MediaURL = info.MediaURL
			out[i].LocalPreview = false
			c.messages = out
			msg = out[i]
			break
		}
	}
	c.mu.Unlock()

	c.publishSend(peer, &msg)
	return localID, nil
}

// Resend re-publishes a failed message with its content reused verbatim
// but a fresh LocalID, so the old identity can never match a late ack.
func (c *Controller) Resend(localID string) (string, error) {
	c.mu.Lock()
	idx := -1
	for i := range c.messages {
		if c.messages[i].LocalID == localID && c.messages[i].Status == StatusFailed {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return "", ErrNoSuchMessage
	}
	if c.messages[idx].LocalPreview {
		c.mu.Unlock()
		return "", ErrReattachRequired
	}

	newID := uuid.NewString()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	out[idx].LocalID = newID
	out[idx].Status = StatusPending
	msg := out[idx]
	c.messages = out
	peer := c.activePeer
	c.mu.Unlock()

	c.publishSend(peer, &msg)
	return newID, nil
}

// Edit optimistically rewrites a sent text message of our own. Permitted
// only within EditWindow of the server timestamp and only once the
// message has a ServerID. A server rejection surfaces a toast but does
// not roll the local text back.
func (c *Controller) Edit(serverID, newText string) error {
	if strings.TrimSpace(newText) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	idx := -1
	for i := range c.messages {
		if c.messages[i].ServerID != "" && c.messages[i].ServerID == serverID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	m := c.messages[idx]
	peer := c.activePeer
	c.mu.Unlock()

	if m.Sender != SenderSelf || m.Type != wire.TypeText || m.Status != StatusSent {
		return ErrNotEditable
	}
	if c.now().UnixMilli()-m.CreatedAt > EditWindow.Milliseconds() {
		return ErrEditWindowExpired
	}

	c.mu.Lock()
	c.messages, _ = applyEdit(c.messages, serverID, newText, c.now().UnixMilli())
	c.mu.Unlock()

	err := c.tp.Publish(wire.DestEditMessage, wire.EditMessage{
		ServerID:   serverID,
		ToUsername: peer,
		NewText:    newText,
	})
	if err != nil {
		c.bus.Publish(bus.Event{
			Kind:      "chat.edit_rejected",
			Timestamp: time.Now(),
			Payload:   "not connected",
		})
	}
	return nil
}

// Composer reports the current text of the input box. Publishes
// typing=true on the empty→non-empty edge, typing=false when the box
// empties, and schedules the idle timeout.
func (c *Controller) Composer(text string) {
	if strings.TrimSpace(text) == "" {
		c.setLocalTyping(false)
		return
	}
	c.setLocalTyping(true)
}

// --- internals ---

// publishSend emits the send frame and starts the bounded ack wait. A
// publish failure (transport down) fails the message immediately.
func (c *Controller) publishSend(peer string, m *Message) {
	frame := wire.ChatMessage{
		ToUsername:   peer,
		FromUsername: c.username,
		Message:      m.Text,
		TempID:       m.LocalID,
		Type:         m.Type,
		MediaURL:     m.MediaURL,
		FileName:     m.FileName,
		MimeType:     m.MimeType,
		Reply:        m.Reply,
	}
	if err := c.tp.Publish(wire.DestSendMessage, frame); err != nil {
		c.logger.Warn("send publish failed", zap.String("local_id", m.LocalID), zap.Error(err))
		c.failLocal(m.LocalID)
		return
	}
	c.startAckWait(m.LocalID)
}

// startAckWait arms the per-message ack timer. The timer and an actual
// ack are mutually exclusive: whichever resolves first wins, because
// both paths only apply to a still-pending message.
func (c *Controller) startAckWait(localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ackTimers[localID] = time.AfterFunc(c.ackTimeout, func() {
		c.mu.Lock()
		delete(c.ackTimers, localID)
		c.mu.Unlock()
		c.failLocal(localID)
	})
}

// handleSendAck resolves an inbound acknowledgement against its timer
// and the pending message.
func (c *Controller) handleSendAck(a *wire.SendAck) {
	c.mu.Lock()
	if t, ok := c.ackTimers[a.TempID]; ok {
		t.Stop()
		delete(c.ackTimers, a.TempID)
	}
	var applied bool
	c.messages, applied = applyAck(c.messages, a.TempID, a.Success, a.ServerID, a.CreatedAt)
	c.mu.Unlock()

	if !applied {
		return
	}
	kind := "chat.send_ack"
	if !a.Success {
		kind = "chat.send_failed"
	}
	c.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"local_id":  a.TempID,
			"server_id": a.ServerID,
			"reason":    a.Reason,
		},
	})
}

// failLocal marks a still-pending message failed.
func (c *Controller) failLocal(localID string) {
	c.mu.Lock()
	var changed bool
	c.messages, changed = markFailed(c.messages, localID)
	c.mu.Unlock()

	if changed {
		c.bus.Publish(bus.Event{
			Kind:      "chat.send_failed",
			Timestamp: time.Now(),
			Payload:   map[string]string{"local_id": localID, "reason": "timeout or no connection"},
		})
	}
}

// setLocalTyping drives the outgoing typing signal, edge-triggered.
func (c *Controller) setLocalTyping(active bool) {
	c.mu.Lock()
	was := c.typingLocal
	c.typingLocal = active
	peer := c.activePeer
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	if active && !c.closed {
		c.typingTimer = time.AfterFunc(c.typingIdle, func() {
			c.setLocalTyping(false)
		})
	}
	c.mu.Unlock()

	if peer == "" || was == active {
		return
	}
	_ = c.tp.Publish(wire.DestTyping, wire.Typing{
		FromUsername: c.username,
		ToUsername:   peer,
		Typing:       active,
	})
}

func mediaType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return wire.TypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return wire.TypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return wire.TypeVoice
	default:
		return wire.TypeFile
	}
}

func mediaCeiling(typ string) int64 {
	if typ == wire.TypeVideo {
		return MaxVideoBytes
	}
	return MaxImageBytes
}
