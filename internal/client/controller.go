package client

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

const (
	DefaultWelcome  = "Hi! I'm the library assistant. Ask me about the catalogue, opening hours or your room bookings."
	DefaultFallback = "Sorry, something went wrong on our side. You can escalate this conversation to a librarian and we will get back to you by email."
)

// Channel is the part of the transport the controller drives.
type Channel interface {
	Connect(ctx context.Context) error
	TakeAck(id string) AckFunc
}

// State is the lifecycle state of the current logical session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErroring
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErroring:
		return "erroring"
	case StateResetting:
		return "resetting"
	default:
		return "disconnected"
	}
}

// Controller applies channel events to the store. Handle must only be called
// from the session loop.
type Controller struct {
	store    *Store
	channel  Channel
	welcome  string
	fallback string

	state      atomic.Int32
	curSession bool
}

// NewController arms the welcome for the first logical session.
func NewController(store *Store, channel Channel, welcome, fallback string) *Controller {
	if welcome == "" {
		welcome = DefaultWelcome
	}
	if fallback == "" {
		fallback = DefaultFallback
	}
	c := &Controller{
		store:      store,
		channel:    channel,
		welcome:    welcome,
		fallback:   fallback,
		curSession: true,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start opens the channel for the first time.
func (c *Controller) Start(ctx context.Context) {
	c.open(ctx)
}

// Retry re-opens the channel after the transport gave up.
func (c *Controller) Retry(ctx context.Context) {
	c.open(ctx)
}

func (c *Controller) open(ctx context.Context) {
	c.setState(StateConnecting)
	if err := c.channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("open channel")
		c.setState(StateDisconnected)
		c.store.SetConnection(false, true)
	}
}

// Handle applies one event. It never fails: every problem ends up as a state
// change or a message in the log.
func (c *Controller) Handle(ctx context.Context, ev Event) {
	switch ev.Name {
	case protocol.EventConnect:
		c.onConnect(ctx)
	case protocol.EventMessage:
		c.onMessage(ctx, ev)
	case protocol.EventUnexpectedError:
		c.onUnexpectedError(ctx, ev)
	case protocol.EventDisconnect:
		c.onDisconnect(ctx, ev.Reason)
	case protocol.EventConnectError, protocol.EventConnectTimeout:
		log.Warn().Err(ev.Err).Str("component", "session").Str("event", ev.Name).Msg("channel unavailable")
		c.store.SetTyping(false)
		c.store.SetConnection(false, true)
		c.setState(StateDisconnected)
	case protocol.EventAck:
		c.onAck(ev)
	default:
		log.Debug().Str("component", "session").Str("event", ev.Name).Msg("ignoring event")
	}
}

func (c *Controller) onConnect(ctx context.Context) {
	c.store.SetConnection(true, true)
	c.setState(StateConnected)
	if !c.curSession {
		return
	}
	if err := c.store.Append(ctx, c.welcome, chat.SenderChatbot, ""); err != nil {
		log.Error().Err(err).Str("component", "session").Msg("persist welcome")
	}
	c.curSession = false
}

func (c *Controller) onMessage(ctx context.Context, ev Event) {
	var msg protocol.ChatbotMessage
	env := protocol.Envelope{Event: ev.Name, Data: ev.Data}
	if err := env.Decode(&msg); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("malformed chatbot message")
		c.store.SetTyping(false)
		return
	}
	if err := c.store.Append(ctx, msg.Message, chat.SenderChatbot, msg.MessageID); err != nil {
		log.Error().Err(err).Str("component", "session").Str("message_id", msg.MessageID).Msg("persist chatbot message")
	}
	c.store.SetTyping(false)
}

func (c *Controller) onUnexpectedError(ctx context.Context, ev Event) {
	c.store.SetTyping(false)
	if err := c.store.Append(ctx, c.fallback, chat.SenderChatbot, ""); err != nil {
		log.Error().Err(err).Str("component", "session").Msg("persist fallback")
	}
	c.store.SnapshotHistory(ev.Data)
	c.store.SetConnection(false, true)
	c.setState(StateErroring)
	log.Warn().Str("component", "session").Int("history_bytes", len(ev.Data)).Msg("backend reported unexpected error")
}

func (c *Controller) onDisconnect(ctx context.Context, reason protocol.DisconnectReason) {
	if !reason.ResetsSession() {
		c.store.SetTyping(false)
		c.store.SetConnection(false, true)
		c.setState(StateDisconnected)
		return
	}

	c.setState(StateResetting)
	if err := c.store.ResetAll(ctx); err != nil {
		log.Error().Err(err).Str("component", "session").Msg("persist reset")
	}
	c.store.SetConnection(false, true)
	c.curSession = true
	c.open(ctx)
}

func (c *Controller) onAck(ev Event) {
	if ev.AckID == "" {
		return
	}
	ack := c.channel.TakeAck(ev.AckID)
	if ack == nil {
		log.Debug().Str("component", "session").Str("ack_id", ev.AckID).Msg("ack without pending callback")
		return
	}
	ack(ev.Data)
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}
