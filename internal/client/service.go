package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

// Options configures a SessionService.
type Options struct {
	URL     string
	Header  http.Header
	Storage Storage
	// Transport overrides the default transport options; URL and Header
	// above take precedence over the ones set here.
	Transport *TransportOptions
	Welcome   string
	Fallback  string
}

// SessionService is the one object a renderer talks to. It owns the store,
// the transport and the controller; all store mutations happen on Run's loop.
type SessionService struct {
	store      *Store
	transport  *Transport
	controller *Controller
	actions    chan func(context.Context)
	done       chan struct{}
	closeOnce  sync.Once

	subsMu     sync.Mutex
	subs       map[chan ConversationState]struct{}
	subsClosed bool
}

// NewSessionService restores the conversation log and prepares the channel.
// Nothing is dialed until Run.
func NewSessionService(ctx context.Context, opts Options) (*SessionService, error) {
	if opts.URL == "" && (opts.Transport == nil || opts.Transport.URL == "") {
		return nil, fmt.Errorf("socket url must be provided")
	}

	transportOpts := DefaultTransportOptions(opts.URL)
	if opts.Transport != nil {
		transportOpts = *opts.Transport
	}
	if opts.URL != "" {
		transportOpts.URL = opts.URL
	}
	if opts.Header != nil {
		transportOpts.Header = opts.Header
	}

	s := &SessionService{
		actions: make(chan func(context.Context), 64),
		done:    make(chan struct{}),
		subs:    make(map[chan ConversationState]struct{}),
	}

	store, err := NewStore(ctx, opts.Storage, s.broadcast)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.transport = NewTransport(transportOpts)
	s.controller = NewController(store, s.transport, opts.Welcome, opts.Fallback)
	return s, nil
}

// Run opens the channel and processes events and user actions until ctx is
// done or Close is called.
func (s *SessionService) Run(ctx context.Context) error {
	s.controller.Start(ctx)
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-events:
			s.controller.Handle(ctx, ev)
		case action := <-s.actions:
			action(ctx)
		}
	}
}

// Snapshot returns the current conversation state.
func (s *SessionService) Snapshot() ConversationState {
	return s.store.Snapshot()
}

// State returns the lifecycle state.
func (s *SessionService) State() State {
	return s.controller.State()
}

// Subscribe streams state snapshots after every change. A slow subscriber
// only misses intermediate snapshots. The returned func unsubscribes.
func (s *SessionService) Subscribe() (<-chan ConversationState, func()) {
	ch := make(chan ConversationState, 16)
	s.subsMu.Lock()
	if s.subsClosed {
		close(ch)
		s.subsMu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// SendMessage appends the user's text and emits it. It does nothing while
// the session is not connected.
func (s *SessionService) SendMessage(text string) error {
	return s.enqueue(func(ctx context.Context) {
		if !s.store.Snapshot().IsConnected || !s.transport.Connected() {
			log.Debug().Str("component", "session").Msg("send ignored while disconnected")
			return
		}
		if err := s.store.Append(ctx, text, chat.SenderUser, ""); err != nil {
			log.Error().Err(err).Str("component", "session").Msg("persist user message")
		}
		s.store.SetTyping(true)
		if err := s.transport.Emit(protocol.EventMessage, text); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("send message")
			s.store.SetTyping(false)
		}
	})
}

// SubmitTicket emits createTicket. onResult, when set, receives the
// backend's acknowledgement; it does not touch the conversation state.
func (s *SessionService) SubmitTicket(form protocol.TicketForm, onResult func(protocol.TicketResult)) error {
	return s.enqueue(func(context.Context) {
		s.submitTicket(form, onResult)
	})
}

// Escalate files a ticket carrying the conversation history, preferring the
// snapshot taken when the backend failed.
func (s *SessionService) Escalate(form protocol.TicketForm, onResult func(protocol.TicketResult)) error {
	return s.enqueue(func(context.Context) {
		state := s.store.Snapshot()
		switch {
		case len(state.HistorySnapshot) > 0:
			form.History = state.HistorySnapshot
		default:
			data, err := json.Marshal(state.Messages)
			if err != nil {
				log.Error().Err(err).Str("component", "session").Msg("encode history for escalation")
				return
			}
			form.History = data
		}
		s.submitTicket(form, onResult)
	})
}

func (s *SessionService) submitTicket(form protocol.TicketForm, onResult func(protocol.TicketResult)) {
	err := s.transport.EmitWithAck(protocol.EventCreateTicket, form, func(data json.RawMessage) {
		var result protocol.TicketResult
		if err := json.Unmarshal(data, &result); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("malformed ticket ack")
			return
		}
		log.Info().Str("component", "session").Bool("ok", result.OK).Str("ticket_id", result.TicketID).Str("error", result.Error).Msg("ticket acknowledged")
		if onResult != nil {
			onResult(result)
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("submit ticket")
	}
}

// SubmitRating records the rating locally and emits it.
func (s *SessionService) SubmitRating(messageID string, rating float64) error {
	return s.enqueue(func(ctx context.Context) {
		if err := s.store.Rate(ctx, messageID, rating); err != nil {
			log.Error().Err(err).Str("component", "session").Msg("persist rating")
		}
		if err := s.transport.Emit(protocol.EventRating, protocol.Rating{MessageID: messageID, Rating: rating}); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("submit rating")
		}
	})
}

// SubmitFeedback emits the closing survey and ends the logical session.
func (s *SessionService) SubmitFeedback(feedback protocol.Feedback) error {
	return s.enqueue(func(context.Context) {
		if err := s.transport.Emit(protocol.EventFeedback, feedback); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("submit feedback")
		}
		s.transport.Disconnect()
	})
}

// Disconnect ends the logical session; the controller resets and reopens.
func (s *SessionService) Disconnect() error {
	return s.enqueue(func(context.Context) {
		s.transport.Disconnect()
	})
}

// Retry re-opens the channel after the transport gave up reconnecting.
func (s *SessionService) Retry() error {
	return s.enqueue(func(ctx context.Context) {
		s.controller.Retry(ctx)
	})
}

// Close detaches from the channel and closes it. Safe to call repeatedly.
func (s *SessionService) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.transport.Close()

		s.subsMu.Lock()
		s.subsClosed = true
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.subsMu.Unlock()
	})
	return nil
}

func (s *SessionService) enqueue(action func(context.Context)) error {
	select {
	case <-s.done:
		return ErrTransportClosed
	default:
	}
	select {
	case s.actions <- action:
		return nil
	case <-s.done:
		return ErrTransportClosed
	}
}

func (s *SessionService) broadcast(state ConversationState) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
