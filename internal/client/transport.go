package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

var (
	// ErrNotConnected is returned by emits while no channel is open.
	ErrNotConnected = errors.New("channel not connected")
	// ErrTransportClosed is returned once the transport has been torn down.
	ErrTransportClosed = errors.New("transport closed")
)

// Event is one inbound frame or lifecycle transition, in arrival order.
type Event struct {
	Name   string
	Data   json.RawMessage
	AckID  string
	Reason protocol.DisconnectReason
	Err    error
}

// AckFunc receives the backend's acknowledgement payload.
type AckFunc func(data json.RawMessage)

// TransportOptions configures the websocket channel.
type TransportOptions struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// Reconnect enables automatic redial after a lost channel.
	Reconnect  bool
	NewBackOff func() backoff.BackOff
	EventQueue int
}

// DefaultTransportOptions mirrors the usual socket client defaults: 20s
// handshake, redial between 1s and 5s with jitter, forever.
func DefaultTransportOptions(url string) TransportOptions {
	return TransportOptions{
		URL:              url,
		HandshakeTimeout: 20 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		Reconnect:        true,
		NewBackOff:       defaultBackOff,
		EventQueue:       256,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Second
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return b
}

// Transport owns the single websocket channel of one client instance.
type Transport struct {
	opts      TransportOptions
	dialer    *websocket.Dialer
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	conn          *websocket.Conn
	running       bool
	gen           uint64
	cancelRun     context.CancelFunc
	clientClosing bool
	requestedGen  uint64
	closed        bool
	acks          map[string]AckFunc

	writeMu sync.Mutex
}

// NewTransport builds a transport; nothing is dialed until Connect.
func NewTransport(opts TransportOptions) *Transport {
	defaults := DefaultTransportOptions(opts.URL)
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaults.NewBackOff
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = defaults.EventQueue
	}

	return &Transport{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		events: make(chan Event, opts.EventQueue),
		done:   make(chan struct{}),
		acks:   make(map[string]AckFunc),
	}
}

// Events is the ordered stream of inbound and lifecycle events.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Connected reports whether a channel is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Connect starts dialing in the background. It is a no-op while a channel
// exists or a dial is already in flight.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.gen++
	t.running = true
	t.cancelRun = cancel
	t.clientClosing = false
	go t.run(runCtx, t.gen)
	return nil
}

// Disconnect closes the channel on the client's request. The resulting
// disconnect event carries protocol.ClientRequested, also when no channel was
// open yet or the transport had stopped redialing.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	if conn == nil {
		running := t.running
		if running && t.cancelRun != nil {
			t.requestedGen = t.gen
			t.cancelRun()
			t.running = false
			t.cancelRun = nil
		}
		t.mu.Unlock()
		if !running {
			go t.deliver(Event{Name: protocol.EventDisconnect, Reason: protocol.ClientRequested})
		}
		return
	}
	t.clientClosing = true
	t.mu.Unlock()

	t.writeClose(conn, protocol.ClientRequested.String())
	_ = conn.Close()
}

// Close tears the transport down: pending events are dropped and no further
// events are delivered. Safe to call repeatedly and before Connect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.done)
		conn := t.conn
		cancel := t.cancelRun
		t.conn = nil
		t.running = false
		t.clientClosing = true
		t.acks = make(map[string]AckFunc)
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			t.writeClose(conn, protocol.ClientRequested.String())
			_ = conn.Close()
		}
	})
	return nil
}

// Emit sends a fire-and-forget event.
func (t *Transport) Emit(event string, payload any) error {
	return t.emit(event, payload, nil)
}

// EmitWithAck sends an event and registers ack for the backend's reply.
func (t *Transport) EmitWithAck(event string, payload any, ack AckFunc) error {
	return t.emit(event, payload, ack)
}

// TakeAck removes and returns the callback registered for id.
func (t *Transport) TakeAck(id string) AckFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	ack := t.acks[id]
	delete(t.acks, id)
	return ack
}

func (t *Transport) emit(event string, payload any, ack AckFunc) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	if ack != nil {
		env.AckID = uuid.NewString()
		t.acks[env.AckID] = ack
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		if env.AckID != "" {
			t.TakeAck(env.AckID)
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (t *Transport) run(ctx context.Context, gen uint64) {
	bo := t.opts.NewBackOff()
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.abandon(gen)
				return
			}
			wait := backoff.Stop
			if t.opts.Reconnect {
				wait = bo.NextBackOff()
			}
			if wait == backoff.Stop {
				t.finish(gen)
			}
			t.deliver(dialFailure(err))
			if wait == backoff.Stop {
				return
			}
			log.Debug().Str("component", "transport").Dur("wait", wait).Msg("redial scheduled")
			if !sleepCtx(ctx, wait) {
				t.abandon(gen)
				return
			}
			continue
		}

		bo.Reset()
		if !t.attach(conn, gen) {
			_ = conn.Close()
			t.abandon(gen)
			return
		}
		log.Info().Str("component", "transport").Str("url", t.opts.URL).Msg("channel established")
		t.deliver(Event{Name: protocol.EventConnect})

		reason := t.serve(conn)
		stop := reason == protocol.ClientRequested || reason == protocol.ServerClosed || !t.opts.Reconnect || ctx.Err() != nil
		t.release(conn, gen, stop)
		log.Info().Str("component", "transport").Str("reason", reason.String()).Msg("channel closed")
		t.deliver(Event{Name: protocol.EventDisconnect, Reason: reason})
		if stop {
			return
		}
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.opts.URL, t.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", t.opts.URL, err)
	}
	return conn, nil
}

func (t *Transport) attach(conn *websocket.Conn, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen || !t.running {
		return false
	}
	t.conn = conn
	t.clientClosing = false

	_ = conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
	})
	return true
}

func (t *Transport) release(conn *websocket.Conn, gen uint64, stop bool) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.clientClosing = false
	if stop && gen == t.gen {
		t.running = false
		t.cancelRun = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *Transport) finish(gen uint64) {
	t.mu.Lock()
	if gen == t.gen {
		t.running = false
		t.cancelRun = nil
	}
	t.mu.Unlock()
}

// abandon ends a run that stopped before a channel was attached. A run
// cancelled by Disconnect still reports the client-requested close.
func (t *Transport) abandon(gen uint64) {
	t.finish(gen)
	t.mu.Lock()
	requested := t.requestedGen == gen && !t.closed
	t.mu.Unlock()
	if requested {
		t.deliver(Event{Name: protocol.EventDisconnect, Reason: protocol.ClientRequested})
	}
}

// serve reads frames until the channel fails and reports why it ended.
func (t *Transport) serve(conn *websocket.Conn) protocol.DisconnectReason {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go t.pingLoop(conn, stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return t.classify(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Warn().Str("component", "transport").Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		t.deliver(Event{Name: env.Event, Data: env.Data, AckID: env.AckID})
	}
}

func (t *Transport) classify(err error) protocol.DisconnectReason {
	t.mu.Lock()
	requested := t.clientClosing
	t.mu.Unlock()
	if requested {
		return protocol.ClientRequested
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
		return protocol.ServerClosed
	}
	if isTimeout(err) {
		return protocol.Timeout
	}
	return protocol.NetworkLost
}

func (t *Transport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (t *Transport) writeClose(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (t *Transport) deliver(ev Event) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func dialFailure(err error) Event {
	if isTimeout(err) {
		return Event{Name: protocol.EventConnectTimeout, Err: err, Reason: protocol.Timeout}
	}
	return Event{Name: protocol.EventConnectError, Err: err, Reason: protocol.NetworkLost}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
