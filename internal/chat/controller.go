package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcadely/chatd/internal/bus"
	"github.com/arcadely/chatd/internal/history"
	"github.com/arcadely/chatd/internal/notify"
	"github.com/arcadely/chatd/internal/status"
	"github.com/arcadely/chatd/internal/store"
	"github.com/arcadely/chatd/internal/transport"
	"github.com/arcadely/chatd/internal/wire"
)

// HistoryClient is the REST surface the controller needs. Satisfied by
// *history.Client; narrowed to an interface so tests can fake it.
type HistoryClient interface {
	Contacts(ctx context.Context) ([]history.Contact, error)
	Conversation(ctx context.Context, peer string) ([]wire.ChatMessage, error)
	UploadMedia(ctx context.Context, fileName, mimeType string, r io.Reader) (*history.MediaInfo, error)
	VerifyChatKey(ctx context.Context, key string) (bool, error)
}

// prefChatUnlocked is the prefs key recording that the chat-unlock
// checkpoint has been passed for this session.
const prefChatUnlocked = "chat_unlocked"

// recvTypingTTL clears a peer's typing flag when no further typing frame
// arrives; a safety net on top of the explicit typing=false the sender
// publishes on idle.
const recvTypingTTL = 6 * time.Second

// Controller is the chat session controller. All state behind mu; every
// mutation of the list/maps goes through the pure reducers so interleaved
// callbacks (transport, timers, UI) compose without lost updates.
type Controller struct {
	username string
	tp       transport.Publisher
	db       *store.DB
	hist     HistoryClient
	notifier *notify.Notifier
	bus      *bus.Bus
	gate     *status.Gate
	logger   *zap.Logger

	ackTimeout time.Duration
	typingIdle time.Duration
	now        func() time.Time

	mu          sync.Mutex
	closed      bool
	activePeer  string
	visible     bool
	messages    []Message
	presence    map[string]Presence
	typing      map[string]bool
	seen        map[string]int64
	readMark    map[string]int64
	ackTimers   map[string]*time.Timer
	typingClear map[string]*time.Timer
	typingLocal bool
	typingTimer *time.Timer
}

// NewController creates a session controller. Call Start after the
// transport is wired with the controller's HandleFrame/OnConnect hooks.
func NewController(username string, tp transport.Publisher, db *store.DB, hist HistoryClient,
	notifier *notify.Notifier, b *bus.Bus, gate *status.Gate, logger *zap.Logger) *Controller {
	return &Controller{
		username:    username,
		tp:          tp,
		db:          db,
		hist:        hist,
		notifier:    notifier,
		bus:         b,
		gate:        gate,
		logger:      logger,
		ackTimeout:  DefaultAckTimeout,
		typingIdle:  TypingIdle,
		now:         time.Now,
		visible:     true,
		presence:    make(map[string]Presence),
		typing:      make(map[string]bool),
		seen:        make(map[string]int64),
		readMark:    make(map[string]int64),
		ackTimers:   make(map[string]*time.Timer),
		typingClear: make(map[string]*time.Timer),
	}
}

// Start loads the cached presence snapshot so the map does not flash to
// unknown before the first realtime update arrives.
func (c *Controller) Start() {
	cached, err := c.db.ListPresence()
	if err != nil {
		c.logger.Warn("failed to load presence cache", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range cached {
		c.presence[p.Username] = Presence{Status: p.Status, LastSeenAt: p.LastSeenAt}
	}
}

// OnConnect is invoked by the transport after every successful handshake
// (subscriptions are already re-issued). Announces the user online and
// kicks off the missed-message scan: coming back online is a resume
// trigger just like the hidden→visible edge, otherwise messages that
// arrived during an outage while the app stayed visible are never
// re-fetched. Resume runs off the transport goroutine so the scan's REST
// calls cannot delay frame dispatch.
func (c *Controller) OnConnect() {
	err := c.tp.Publish(wire.DestPresenceOnline, wire.PresenceUpdate{
		Username: c.username,
		Status:   "online",
	})
	if err != nil {
		c.logger.Warn("failed to publish online presence", zap.Error(err))
	}
	go c.Resume(context.Background())
}

// OnDisconnect is invoked by the transport when an established connection
// drops. The transport reconnects on its own; this only decides whether
// the user should hear about it.
func (c *Controller) OnDisconnect(err error) {
	c.mu.Lock()
	c.typing = make(map[string]bool)
	c.mu.Unlock()

	if c.gate.ShouldSurface() {
		c.bus.Publish(bus.Event{
			Kind:      "conn.error",
			Timestamp: time.Now(),
			Payload:   "Connection lost, reconnecting",
		})
	}
}

// HandleFrame is the transport inbound dispatcher. Malformed frames are
// dropped with a diagnostic log and never stall the subscription.
func (c *Controller) HandleFrame(destination string, body []byte) {
	switch destination {
	case wire.SubPresenceBroadcast, wire.SubPresenceDirect:
		p, err := wire.DecodePresence(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handlePresence(p)
	case wire.SubMessages:
		m, err := wire.DecodeChatMessage(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleInbound(m)
	case wire.SubTyping:
		ty, err := wire.DecodeTyping(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleTyping(ty)
	case wire.SubSendAcks:
		a, err := wire.DecodeSendAck(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleSendAck(a)
	case wire.SubEdits:
		e, err := wire.DecodeEditBroadcast(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleEditBroadcast(e)
	case wire.SubEditAcks:
		a, err := wire.DecodeEditAck(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleEditAck(a)
	case wire.SubReadReceipts:
		r, err := wire.DecodeReadReceipt(body)
		if err != nil {
			c.logger.Warn("dropping bad frame", zap.String("dest", destination), zap.Error(err))
			return
		}
		c.handleReadReceipt(r)
	default:
		c.logger.Warn("frame on unknown destination", zap.String("dest", destination))
	}
}

// ChatUnlocked reports whether the chat-unlock checkpoint has already
// been passed for this session.
func (c *Controller) ChatUnlocked() bool {
	v, ok, err := c.db.GetPref(prefChatUnlocked)
	if err != nil {
		c.logger.Warn("failed to read unlock pref", zap.Error(err))
		return false
	}
	return ok && v == "1"
}

// UnlockChat verifies the chat key with the backend and, on success,
// records the unlock durably so the checkpoint is not asked again.
func (c *Controller) UnlockChat(ctx context.Context, key string) (bool, error) {
	ok, err := c.hist.VerifyChatKey(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := c.db.SetPref(prefChatUnlocked, "1"); err != nil {
		return true, err
	}
	return true, nil
}

// Open switches the active conversation to peer: loads its history,
// applies the clear cutoff, and marks the newest inbound message read.
// Interest in the previous conversation's typing/read state ends here,
// but in-flight sends for it still resolve by LocalID.
func (c *Controller) Open(ctx context.Context, peer string) error {
	msgs, err := c.hist.Conversation(ctx, peer)
	if err != nil {
		return err
	}

	cut, err := c.db.GetCutoffs(peer)
	if err != nil {
		return err
	}

	list := make([]Message, 0, len(msgs))
	for i := range msgs {
		list = append(list, fromWire(&msgs[i], c.username))
	}
	list = visible(list, cut.ClearCutoff)

	c.mu.Lock()
	c.activePeer = peer
	c.messages = list
	c.typingLocal = false
	newest := newestInboundAt(list)
	c.mu.Unlock()

	// Opening counts as seeing: no re-alert for these on next resume.
	if newest > 0 {
		if err := c.db.AdvanceNotifyCutoff(peer, newest); err != nil {
			c.logger.Warn("failed to advance notify cutoff", zap.Error(err))
		}
	}
	c.bus.Publish(bus.Event{
		Kind:      "chat.opened",
		Timestamp: time.Now(),
		Payload:   map[string]string{"peer": peer},
	})
	c.publishReadReceipt()
	return nil
}

// Messages returns a copy of the active conversation's visible list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ActivePeer returns the currently open conversation's peer, or "".
func (c *Controller) ActivePeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePeer
}

// PresenceFor returns the last known presence for peer.
func (c *Controller) PresenceFor(peer string) Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence[peer]
}

// TypingFor reports whether peer is currently typing.
func (c *Controller) TypingFor(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing[peer]
}

// SeenFor returns the max readAt timestamp peer has acknowledged.
func (c *Controller) SeenFor(peer string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[peer]
}

// SetVisible records app visibility. The hidden→visible edge opens the
// error-suppression window and triggers the missed-message scan.
func (c *Controller) SetVisible(ctx context.Context, v bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = v
	c.mu.Unlock()

	c.gate.SetVisible(v)
	if v && !was {
		c.gate.Suppress()
		c.Resume(ctx)
		c.publishReadReceipt()
	}
}

// ClearConversation hides the active conversation's messages for this
// user only, by advancing the clear cutoff to the newest known message.
// The server copy is untouched.
func (c *Controller) ClearConversation() error {
	c.mu.Lock()
	peer := c.activePeer
	var newest int64
	for _, m := range c.messages {
		if m.CreatedAt > newest {
			newest = m.CreatedAt
		}
	}
	c.mu.Unlock()

	if peer == "" || newest == 0 {
		return nil
	}
	if err := c.db.AdvanceClearCutoff(peer, newest); err != nil {
		return err
	}

	c.mu.Lock()
	c.messages = visible(c.messages, newest)
	c.mu.Unlock()
	return nil
}

// Resume re-checks every known peer for messages newer than its notify
// cutoff and emits one aggregated alert per peer. Fired on visibility,
// focus and reconnect triggers; the limiter absorbs their overlap and the
// monotonic cutoff makes the scan idempotent.
func (c *Controller) Resume(ctx context.Context) {
	cuts, err := c.db.ListCutoffs()
	if err != nil {
		c.logger.Warn("resume scan: list cutoffs", zap.Error(err))
		return
	}
	cutoffs := make(map[string]int64, len(cuts))
	for _, cut := range cuts {
		cutoffs[cut.Peer] = cut.NotifyCutoff
	}

	// Contacts without a cutoff row yet scan against zero, so a peer whose
	// first-ever message arrived while the daemon was down still alerts.
	contacts, err := c.hist.Contacts(ctx)
	if errors.Is(err, history.ErrAuthExpired) {
		c.publishAuthExpired()
		return
	}
	if err != nil {
		c.logger.Warn("resume scan: list contacts", zap.Error(err))
	}
	for _, ct := range contacts {
		if ct.Username == c.username {
			continue
		}
		if _, ok := cutoffs[ct.Username]; !ok {
			cutoffs[ct.Username] = 0
		}
	}

	peers := make([]string, 0, len(cutoffs))
	for peer := range cutoffs {
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	c.mu.Lock()
	activePeer := c.activePeer
	vis := c.visible
	c.mu.Unlock()

	for _, peer := range peers {
		msgs, err := c.hist.Conversation(ctx, peer)
		if errors.Is(err, history.ErrAuthExpired) {
			c.publishAuthExpired()
			return
		}
		if err != nil {
			c.logger.Warn("resume scan: fetch conversation", zap.String("peer", peer), zap.Error(err))
			continue
		}

		count := 0
		var newest int64
		for i := range msgs {
			m := fromWire(&msgs[i], c.username)
			if m.Sender != SenderPeer || m.CreatedAt <= cutoffs[peer] {
				continue
			}
			count++
			if m.CreatedAt > newest {
				newest = m.CreatedAt
			}
		}
		if count == 0 {
			continue
		}
		if !(peer == activePeer && vis) {
			c.notifier.NotifyCount(peer, count)
		}
		if err := c.db.AdvanceNotifyCutoff(peer, newest); err != nil {
			c.logger.Warn("resume scan: advance cutoff", zap.Error(err))
		}
	}
}

// publishAuthExpired surfaces a 401 from the history backend. Not locally
// recoverable; the session must re-authenticate.
func (c *Controller) publishAuthExpired() {
	c.bus.Publish(bus.Event{
		Kind:      "conn.auth_expired",
		Timestamp: time.Now(),
	})
}

// Close tears the session state down as one unit: offline presence if
// still connected, then every pending ack timer and typing timer. The
// transport itself is stopped by the daemon after this returns.
func (c *Controller) Close() {
	if c.tp.IsConnected() {
		_ = c.tp.Publish(wire.DestPresenceOffline, wire.PresenceUpdate{
			Username: c.username,
			Status:   "offline",
		})
	}

	c.mu.Lock()
	c.closed = true
	timers := make([]*time.Timer, 0, len(c.ackTimers)+len(c.typingClear)+1)
	for _, t := range c.ackTimers {
		timers = append(timers, t)
	}
	c.ackTimers = make(map[string]*time.Timer)
	for _, t := range c.typingClear {
		timers = append(timers, t)
	}
	c.typingClear = make(map[string]*time.Timer)
	if c.typingTimer != nil {
		timers = append(timers, c.typingTimer)
		c.typingTimer = nil
	}
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// --- inbound frame handlers ---

func (c *Controller) handleInbound(w *wire.ChatMessage) {
	in := fromWire(w, c.username)

	// The conversation peer is whichever endpoint isn't us: a self-echo
	// from another device carries From=self, so the peer is the recipient.
	peer := w.FromUsername
	if in.Sender == SenderSelf {
		peer = w.ToUsername
	}

	c.mu.Lock()
	fromActive := w.FromUsername == c.activePeer
	toActive := in.Sender == SenderSelf && w.ToUsername == c.activePeer
	if fromActive || toActive {
		c.messages, _ = mergeInbound(c.messages, in)
	}
	vis := c.visible
	c.mu.Unlock()

	c.bus.Publish(bus.Event{
		Kind:      "chat.message_upserted",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"peer":       peer,
			"preview":    in.Preview(),
			"sender":     in.Sender,
			"created_at": strconv.FormatInt(in.CreatedAt, 10),
		},
	})

	if in.Sender != SenderPeer {
		return
	}

	// Focused and visible: suppress the alert but still advance the
	// cutoff so reopening later doesn't re-notify.
	if !(fromActive && vis) {
		c.notifier.Notify(w.FromUsername, in.Preview())
	}
	if in.CreatedAt > 0 {
		if err := c.db.AdvanceNotifyCutoff(w.FromUsername, in.CreatedAt); err != nil {
			c.logger.Warn("failed to advance notify cutoff", zap.Error(err))
		}
	}
	if fromActive && vis {
		c.publishReadReceipt()
	}
}

func (c *Controller) handlePresence(p *wire.PresenceUpdate) {
	c.mu.Lock()
	c.presence = reducePresence(c.presence, p)
	merged := c.presence[p.Username]
	c.mu.Unlock()

	if err := c.db.UpsertPresence(&store.PresenceEntry{
		Username:   p.Username,
		Status:     merged.Status,
		LastSeenAt: merged.LastSeenAt,
	}); err != nil {
		c.logger.Warn("failed to cache presence", zap.Error(err))
	}

	c.bus.Publish(bus.Event{
		Kind:      "presence.changed",
		Timestamp: time.Now(),
		Payload:   map[string]string{"peer": p.Username, "status": merged.Status},
	})
}

func (c *Controller) handleTyping(ty *wire.Typing) {
	c.mu.Lock()
	c.typing = reduceTyping(c.typing, ty.FromUsername, ty.Typing)
	if t, ok := c.typingClear[ty.FromUsername]; ok {
		t.Stop()
		delete(c.typingClear, ty.FromUsername)
	}
	if ty.Typing && !c.closed {
		peer := ty.FromUsername
		c.typingClear[peer] = time.AfterFunc(recvTypingTTL, func() {
			c.mu.Lock()
			c.typing = reduceTyping(c.typing, peer, false)
			delete(c.typingClear, peer)
			c.mu.Unlock()
		})
	}
	c.mu.Unlock()

	if ty.Typing {
		// Typing implies online right now.
		c.handlePresence(&wire.PresenceUpdate{
			Username:   ty.FromUsername,
			Status:     "online",
			LastSeenAt: c.now().UnixMilli(),
		})
	}

	c.bus.Publish(bus.Event{
		Kind:      "presence.typing",
		Timestamp: time.Now(),
		Payload:   map[string]any{"peer": ty.FromUsername, "typing": ty.Typing},
	})
}

func (c *Controller) handleEditBroadcast(e *wire.EditBroadcast) {
	c.mu.Lock()
	var changed bool
	c.messages, changed = applyEdit(c.messages, e.ServerID, e.NewText, e.EditedAt)
	c.mu.Unlock()

	if changed {
		c.bus.Publish(bus.Event{
			Kind:      "chat.edited",
			Timestamp: time.Now(),
			Payload:   map[string]string{"server_id": e.ServerID},
		})
	}
}

func (c *Controller) handleEditAck(a *wire.EditAck) {
	if a.Success {
		return
	}
	// The optimistic local text stays; only the rejection is surfaced.
	c.bus.Publish(bus.Event{
		Kind:      "chat.edit_rejected",
		Timestamp: time.Now(),
		Payload:   a.Reason,
	})
}

func (c *Controller) handleReadReceipt(r *wire.ReadReceipt) {
	c.mu.Lock()
	c.seen = reduceSeen(c.seen, r.ReaderUsername, r.ReadAt)
	c.mu.Unlock()

	c.bus.Publish(bus.Event{
		Kind:      "receipt.read",
		Timestamp: time.Now(),
		Payload:   map[string]any{"peer": r.ReaderUsername, "read_at": r.ReadAt},
	})
}

// publishReadReceipt tells the active peer how far we've read. Published
// only while visible, only for the open conversation, and only when the
// watermark actually advances.
func (c *Controller) publishReadReceipt() {
	c.mu.Lock()
	peer := c.activePeer
	vis := c.visible
	newest := newestInboundAt(c.messages)
	mark := c.readMark[peer]
	c.mu.Unlock()

	if peer == "" || !vis || newest <= mark {
		return
	}
	err := c.tp.Publish(wire.DestReadReceipt, wire.ReadReceipt{
		ReaderUsername: c.username,
		PeerUsername:   peer,
		ReadAt:         newest,
	})
	if err != nil {
		return
	}

	c.mu.Lock()
	if newest > c.readMark[peer] {
		c.readMark[peer] = newest
	}
	c.mu.Unlock()
}
