// Package transport owns the realtime duplex channel: a STOMP client
// speaking over a WebSocket, with built-in reconnect. Consumers never
// manage retries themselves; they react to connect/disconnect callbacks
// and treat Publish as fallible when the channel is down.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"

	"github.com/arcadely/chatd/internal/status"
	"github.com/arcadely/chatd/internal/wire"
)

// ErrNotConnected is returned by Publish while the channel is down.
// Callers mark the affected message failed instead of queueing.
var ErrNotConnected = errors.New("transport: not connected")

// DefaultBackoff is the fixed delay between reconnect attempts.
const DefaultBackoff = 700 * time.Millisecond

// Publisher is the outbound half of the transport, consumed by the
// session controller.
type Publisher interface {
	Publish(destination string, v any) error
	IsConnected() bool
}

// Handler receives the body of every inbound frame along with the
// subscription destination it arrived on. Frames on a single destination
// are delivered in arrival order.
type Handler func(destination string, body []byte)

// Options configures a Transport.
type Options struct {
	URL      string
	Username string
	// Token returns the current bearer token; called on every handshake
	// so a refreshed token is picked up on reconnect.
	Token func() string
	// Handler receives inbound frames.
	Handler Handler
	// OnConnect fires after the handshake and subscription setup succeed.
	OnConnect func()
	// OnDisconnect fires when an established connection is lost.
	OnDisconnect func(err error)
	// Backoff between reconnect attempts; DefaultBackoff when zero.
	Backoff time.Duration
}

// Transport is a reconnecting STOMP-over-WebSocket connection. Exactly
// one connection is active at a time; teardown of the previous one is
// synchronous before a new attempt starts.
type Transport struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *stomp.Conn
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a transport. Start must be called to begin connecting.
func New(opts Options, machine *status.Machine, logger *zap.Logger) *Transport {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Transport{
		opts:    opts,
		machine: machine,
		logger:  logger,
	}
}

// Bind installs the inbound handler and lifecycle callbacks. Must be
// called before Start; it exists so the transport and its consumer can
// be constructed independently.
func (t *Transport) Bind(h Handler, onConnect func(), onDisconnect func(error)) {
	t.opts.Handler = h
	t.opts.OnConnect = onConnect
	t.opts.OnDisconnect = onDisconnect
}

// Start launches the connect/reconnect loop. It returns immediately; the
// loop runs until Stop is called or ctx is cancelled.
func (t *Transport) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop tears the connection down and stops the reconnect loop. It blocks
// until the loop has exited, so the caller can rely on no further
// callbacks after Stop returns.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsConnected reports whether a STOMP session is currently established.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Publish JSON-encodes v and sends it to the given destination.
func (t *Transport) Publish(destination string, v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	for {
		if ctx.Err() != nil {
			return
		}

		_ = t.machine.Transition(status.Connecting)
		err := t.connectOnce(ctx)
		_ = t.machine.Transition(status.Disconnected)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.logger.Warn("realtime connection lost", zap.Error(err))
			if t.opts.OnDisconnect != nil {
				t.opts.OnDisconnect(err)
			}
		}

		select {
		case <-time.After(t.opts.Backoff):
		case <-ctx.Done():
			return
		}
	}
}

// connectOnce dials, subscribes, invokes OnConnect, then pumps frames
// until the connection drops or ctx is cancelled. The returned error is
// nil only on deliberate shutdown.
func (t *Transport) connectOnce(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, t.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	nc := websocket.NetConn(ctx, ws, websocket.MessageText)
	conn, err := t.handshake(nc)
	if err != nil {
		_ = ws.Close(websocket.StatusProtocolError, "handshake failed")
		return err
	}

	frames := make(chan *stomp.Message, 256)
	pumpDone := make(chan struct{})
	defer close(pumpDone)
	for _, dest := range wire.Subscriptions {
		sub, err := conn.Subscribe(dest, stomp.AckAuto)
		if err != nil {
			t.teardown(conn, ws)
			return fmt.Errorf("subscribe %s: %w", dest, err)
		}
		go pump(sub, frames, pumpDone)
	}

	t.mu.Lock()
	t.conn = conn
	t.ws = ws
	t.mu.Unlock()

	_ = t.machine.Transition(status.Connected)
	t.logger.Info("realtime connected", zap.String("url", t.opts.URL))
	if t.opts.OnConnect != nil {
		t.opts.OnConnect()
	}

	err = t.pumpFrames(ctx, frames)

	t.mu.Lock()
	t.conn = nil
	t.ws = nil
	t.mu.Unlock()
	t.teardown(conn, ws)
	return err
}

func (t *Transport) handshake(nc net.Conn) (*stomp.Conn, error) {
	token := ""
	if t.opts.Token != nil {
		token = t.opts.Token()
	}
	conn, err := stomp.Connect(nc,
		stomp.ConnOpt.Login(t.opts.Username, ""),
		stomp.ConnOpt.Header("username", t.opts.Username),
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.HeartBeat(20*time.Second, 20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}
	return conn, nil
}

// pump forwards one subscription's messages to the shared frame channel,
// blocking when the dispatcher is behind so no frame is ever dropped on a
// live connection. It exits when the subscription channel closes
// (connection loss) or done closes (dispatcher gone), whichever first.
func pump(sub *stomp.Subscription, frames chan<- *stomp.Message, done <-chan struct{}) {
	for msg := range sub.C {
		select {
		case frames <- msg:
		case <-done:
			return
		}
	}
	select {
	case frames <- nil: // closed-subscription marker
	case <-done:
	}
}

// pumpFrames dispatches inbound frames in arrival order until the
// connection drops (any subscription closes or errors) or ctx ends.
func (t *Transport) pumpFrames(ctx context.Context, frames <-chan *stomp.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-frames:
			if msg == nil {
				return errors.New("subscription closed")
			}
			if msg.Err != nil {
				return fmt.Errorf("subscription error: %w", msg.Err)
			}
			if t.opts.Handler != nil {
				t.opts.Handler(msg.Destination, msg.Body)
			}
		}
	}
}

// teardown closes the STOMP session and the underlying websocket. Safe on
// half-dead connections.
func (t *Transport) teardown(conn *stomp.Conn, ws *websocket.Conn) {
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			_ = conn.MustDisconnect()
		}
	}
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
}
