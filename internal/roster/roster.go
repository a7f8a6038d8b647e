// Package roster maintains the conversation list: one summary per peer
// combining the last message preview, the unread count against the
// notify cutoff and the live presence/typing state. Built from history
// snapshots and kept current by bus events.
package roster

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcadely/chatd/internal/bus"
	"github.com/arcadely/chatd/internal/history"
	"github.com/arcadely/chatd/internal/store"
	"github.com/arcadely/chatd/internal/wire"
)

// Summary is one roster row.
type Summary struct {
	Peer       string
	Preview    string
	LastAt     int64 // server timestamp of the newest message, epoch ms
	Unread     int   // peer messages newer than the notify cutoff
	Status     string
	LastSeenAt int64
	Typing     bool
}

// HistoryClient is the REST surface the roster needs.
type HistoryClient interface {
	Contacts(ctx context.Context) ([]history.Contact, error)
	Conversation(ctx context.Context, peer string) ([]wire.ChatMessage, error)
}

// Controller derives and maintains the roster. Refresh rebuilds it from
// the backend; the bus subscription keeps it current between refreshes.
type Controller struct {
	username string
	hist     HistoryClient
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*Summary

	unsub func()
	quit  chan struct{}
	done  chan struct{}
}

func New(username string, hist HistoryClient, db *store.DB, b *bus.Bus, logger *zap.Logger) *Controller {
	return &Controller{
		username: username,
		hist:     hist,
		db:       db,
		bus:      b,
		logger:   logger,
		entries:  make(map[string]*Summary),
	}
}

// Refresh rebuilds every roster row from the backend and the stored
// cutoffs. Row order and unread counts after a Refresh are authoritative;
// incremental bus updates only approximate them between refreshes.
func (r *Controller) Refresh(ctx context.Context) error {
	contacts, err := r.hist.Contacts(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]*Summary, len(contacts))
	for _, ct := range contacts {
		if ct.Username == r.username {
			continue
		}
		s := &Summary{Peer: ct.Username, Status: ct.Status, LastSeenAt: ct.LastSeenAt}

		msgs, err := r.hist.Conversation(ctx, ct.Username)
		if err != nil {
			r.logger.Warn("roster refresh: conversation fetch failed",
				zap.String("peer", ct.Username), zap.Error(err))
			fresh[ct.Username] = s
			continue
		}
		cut, err := r.db.GetCutoffs(ct.Username)
		if err != nil {
			return err
		}

		for i := range msgs {
			m := &msgs[i]
			if m.CreatedAt >= s.LastAt {
				s.LastAt = m.CreatedAt
				s.Preview = preview(m)
			}
			if m.FromUsername == ct.Username && m.CreatedAt > cut.NotifyCutoff {
				s.Unread++
			}
		}
		fresh[ct.Username] = s
	}

	r.mu.Lock()
	// Transient state survives the rebuild.
	for peer, old := range r.entries {
		if s, ok := fresh[peer]; ok {
			s.Typing = old.Typing
		}
	}
	r.entries = fresh
	r.mu.Unlock()

	r.publishUpdated()
	return nil
}

// Snapshot returns the roster sorted by most recent activity, peers with
// no history last, alphabetically within ties.
func (r *Controller) Snapshot() []Summary {
	r.mu.Lock()
	out := make([]Summary, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAt != out[j].LastAt {
			return out[i].LastAt > out[j].LastAt
		}
		return out[i].Peer < out[j].Peer
	})
	return out
}

// Start subscribes to the bus and applies incremental updates until Stop.
func (r *Controller) Start() {
	events, unsub := r.bus.Subscribe("", 64)
	r.unsub = unsub
	r.quit = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case evt := <-events:
				r.apply(evt)
			case <-r.quit:
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the event loop to exit.
func (r *Controller) Stop() {
	if r.unsub == nil {
		return
	}
	r.unsub()
	close(r.quit)
	<-r.done
	r.unsub = nil
}

func (r *Controller) apply(evt bus.Event) {
	switch evt.Kind {
	case "chat.message_upserted":
		p, ok := evt.Payload.(map[string]string)
		if !ok {
			return
		}
		r.applyMessage(p)
	case "chat.opened":
		p, ok := evt.Payload.(map[string]string)
		if !ok {
			return
		}
		r.MarkRead(p["peer"])
	case "presence.changed":
		p, ok := evt.Payload.(map[string]string)
		if !ok {
			return
		}
		r.mu.Lock()
		s := r.entry(p["peer"])
		s.Status = p["status"]
		r.mu.Unlock()
		r.publishUpdated()
	case "presence.typing":
		p, ok := evt.Payload.(map[string]any)
		if !ok {
			return
		}
		peer, _ := p["peer"].(string)
		typing, _ := p["typing"].(bool)
		r.mu.Lock()
		s := r.entry(peer)
		s.Typing = typing
		r.mu.Unlock()
		r.publishUpdated()
	}
}

func (r *Controller) applyMessage(p map[string]string) {
	peer := p["peer"]
	if peer == "" || peer == r.username {
		return
	}
	createdAt, _ := strconv.ParseInt(p["created_at"], 10, 64)

	r.mu.Lock()
	s := r.entry(peer)
	if createdAt >= s.LastAt {
		s.LastAt = createdAt
		s.Preview = p["preview"]
	}
	if p["sender"] == "peer" {
		s.Unread++
		s.Typing = false
	}
	r.mu.Unlock()

	r.publishUpdated()
}

// MarkRead zeroes a peer's unread count; called when its conversation is
// opened. The durable cutoff advance is the session controller's job.
func (r *Controller) MarkRead(peer string) {
	r.mu.Lock()
	if s, ok := r.entries[peer]; ok {
		s.Unread = 0
	}
	r.mu.Unlock()
	r.publishUpdated()
}

// entry returns the row for peer, creating it on first sight. Caller
// holds mu.
func (r *Controller) entry(peer string) *Summary {
	s, ok := r.entries[peer]
	if !ok {
		s = &Summary{Peer: peer}
		r.entries[peer] = s
	}
	return s
}

func (r *Controller) publishUpdated() {
	r.bus.Publish(bus.Event{
		Kind:      "roster.updated",
		Timestamp: time.Now(),
	})
}

func preview(m *wire.ChatMessage) string {
	switch m.Type {
	case "", wire.TypeText:
		return m.Message
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
