// Package socket serves the chat websocket that browser and terminal clients
// connect to.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/metrics"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
	"github.com/zhouzirui/library-chat/backend/internal/service/dispatch"
)

// SessionHeader carries the backend session id in the upgrade response.
const SessionHeader = "X-Session-Id"

var errConnectionClosed = errors.New("connection closed")

// Dispatcher handles one inbound event for a session.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID string, env protocol.Envelope, out dispatch.Sender)
}

// Sessions opens and closes backend sessions.
type Sessions interface {
	CreateSession(ctx context.Context) (chat.Session, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Options 控制 websocket 的超时与缓冲。
type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueue      int
	InboxSize      int
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 32
	}
}

// Handler WebSocket 聊天处理器
type Handler struct {
	sessions   Sessions
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	conns    map[*connection]struct{}
	draining bool
}

// New 创建处理器
func New(sessions Sessions, dispatcher Dispatcher, opts Options) *Handler {
	opts.defaults()
	h := &Handler{
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts,
		conns:      make(map[*connection]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes 注册 websocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/socket", h.serve)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	session, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, http.Header{SessionHeader: []string{session.ID}})
	if err != nil {
		log.Warn().Err(err).Str("component", "socket").Str("session_id", session.ID).Msg("upgrade failed")
		_ = h.sessions.CloseSession(context.Background(), session.ID)
		return
	}
	defer ws.Close()

	c := &connection{
		ws:        ws,
		sessionID: session.ID,
		send:      make(chan []byte, h.opts.SendQueue),
		inbox:     make(chan protocol.Envelope, h.opts.InboxSize),
		done:      make(chan struct{}),
		opts:      h.opts,
	}
	h.track(c)
	metrics.ActiveConnections.Inc()
	logger := log.With().Str("component", "socket").Str("session_id", session.ID).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		h.dispatchLoop(ctx, c)
	}()

	err = c.readPump()
	<-dispatchDone
	c.close()
	<-writeDone

	h.untrack(c)
	metrics.ActiveConnections.Dec()
	if closeErr := h.sessions.CloseSession(context.Background(), session.ID); closeErr != nil {
		logger.Debug().Err(closeErr).Msg("close session")
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		logger.Warn().Err(err).Msg("read error")
	}
	logger.Info().Msg("client disconnected")
}

// dispatchLoop handles events in arrival order so replies are never reordered.
// It returns once the read pump has closed the inbox and every queued event
// has been handled.
func (h *Handler) dispatchLoop(ctx context.Context, c *connection) {
	for env := range c.inbox {
		h.dispatcher.Handle(ctx, c.sessionID, env, c)
	}
}

// Shutdown closes every open socket with a server close frame and stops
// accepting new ones.
func (h *Handler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.draining = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.ServerClosed.String())
	deadline := time.Now().Add(h.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.close()
		ws := c.ws
		time.AfterFunc(time.Until(deadline), func() { _ = ws.Close() })
	}
}

// Active returns the number of open sockets.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c *connection) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type connection struct {
	ws        *websocket.Conn
	sessionID string
	send      chan []byte
	inbox     chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
	opts      Options
}

// Send queues env for the write pump.
func (c *connection) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnectionClosed
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) extendRead() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
}

// readPump is the only sender on inbox and closes it when the socket ends.
func (c *connection) readPump() error {
	defer close(c.inbox)
	c.extendRead()
	c.ws.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		c.extendRead()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.extendRead()

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			metrics.RecordEvent("invalid", "ignored")
			log.Debug().Str("component", "socket").Str("session_id", c.sessionID).Msg("dropping malformed frame")
			continue
		}

		c.inbox <- env
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		}
	}
}
