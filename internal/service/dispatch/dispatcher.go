// Package dispatch handles the events a chat client sends over its socket.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/adapter/ticket"
	"github.com/zhouzirui/library-chat/backend/internal/metrics"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
	"github.com/zhouzirui/library-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/library-chat/backend/internal/service/chat"
)

// ErrAssistantUnavailable is reported when no model is configured.
var ErrAssistantUnavailable = errors.New("assistant unavailable")

// Responder produces model answers.
type Responder interface {
	Generate(ctx context.Context, history []chat.Turn, query string) (ai.Reply, error)
}

// ToolInvoker runs a tool by name and returns its textual result.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) string
}

// TicketCreator files escalation tickets.
type TicketCreator interface {
	Create(ctx context.Context, req ticket.Request) (string, error)
}

// Sender writes an envelope back to the client that sent the event.
type Sender interface {
	Send(env protocol.Envelope) error
}

// Options wires the dispatcher's collaborators. Only Transcript is required.
type Options struct {
	Transcript    *chatservice.Service
	Responder     Responder
	Tools         ToolInvoker
	Tickets       TicketCreator
	MaxToolRounds int
}

type Dispatcher struct {
	transcript    *chatservice.Service
	responder     Responder
	tools         ToolInvoker
	tickets       TicketCreator
	maxToolRounds int
}

func New(opts Options) *Dispatcher {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 2
	}
	return &Dispatcher{
		transcript:    opts.Transcript,
		responder:     opts.Responder,
		tools:         opts.Tools,
		tickets:       opts.Tickets,
		maxToolRounds: opts.MaxToolRounds,
	}
}

// Handle processes one inbound envelope for sessionID. It never returns an
// error: failures are logged and, for chat messages, reported to the client
// as unexpected_error carrying the transcript.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, env protocol.Envelope, out Sender) {
	var err error
	switch env.Event {
	case protocol.EventMessage:
		err = d.handleMessage(ctx, sessionID, env, out)
	case protocol.EventCreateTicket:
		err = d.handleTicket(ctx, sessionID, env, out)
	case protocol.EventRating:
		err = d.handleRating(ctx, sessionID, env)
	case protocol.EventFeedback:
		err = d.handleFeedback(ctx, sessionID, env)
	default:
		metrics.RecordEvent("unknown", "ignored")
		log.Debug().Str("component", "dispatch").Str("session_id", sessionID).Str("event", env.Event).Msg("ignoring unknown event")
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
		log.Warn().Err(err).Str("component", "dispatch").Str("session_id", sessionID).Str("event", env.Event).Msg("event failed")
	}
	metrics.RecordEvent(env.Event, status)
}

func (d *Dispatcher) handleMessage(ctx context.Context, sessionID string, env protocol.Envelope, out Sender) error {
	err := d.answer(ctx, sessionID, env, out)
	if err != nil {
		d.reportUnexpected(ctx, sessionID, out)
	}
	return err
}

func (d *Dispatcher) answer(ctx context.Context, sessionID string, env protocol.Envelope, out Sender) error {
	var text string
	if err := env.Decode(&text); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message: empty text")
	}

	history, err := d.transcript.LoadTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := d.transcript.AppendTurn(ctx, chat.Turn{SessionID: sessionID, Role: chat.RoleUser, Content: text}); err != nil {
		return err
	}
	if d.responder == nil {
		return ErrAssistantUnavailable
	}

	reply, err := d.generate(ctx, history, text)
	if err != nil {
		return err
	}

	turn, err := d.transcript.AppendTurn(ctx, chat.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   reply,
	})
	if err != nil {
		return err
	}

	msg, err := protocol.NewEnvelope(protocol.EventMessage, protocol.ChatbotMessage{MessageID: turn.ID, Message: turn.Content})
	if err != nil {
		return err
	}
	return out.Send(msg)
}

// generate asks the model, running the tools it requests until it answers
// in plain text.
func (d *Dispatcher) generate(ctx context.Context, history []chat.Turn, text string) (string, error) {
	query := text
	for round := 0; ; round++ {
		start := time.Now()
		reply, err := d.responder.Generate(ctx, history, query)
		metrics.RecordLLMCall(time.Since(start).Seconds(), reply.Usage.Prompt, reply.Usage.Completion)
		if err != nil {
			return "", err
		}

		directive, ok := ai.ParseToolDirective(reply.Text)
		if !ok || d.tools == nil {
			return reply.Text, nil
		}
		if round >= d.maxToolRounds {
			return "", fmt.Errorf("model kept requesting tools after %d rounds", round)
		}

		result := d.tools.Invoke(ctx, directive.Tool, directive.Arguments)
		log.Debug().Str("component", "dispatch").Str("tool", directive.Tool).Int("result_length", len(result)).Msg("tool invoked")

		history = append(history,
			chat.Turn{Role: chat.RoleUser, Content: query},
			chat.Turn{Role: chat.RoleAssistant, Content: reply.Text},
		)
		query = fmt.Sprintf("Result of %s:\n%s\n\nUse this result to answer the patron's last question: %s", directive.Tool, result, text)
	}
}

func (d *Dispatcher) reportUnexpected(ctx context.Context, sessionID string, out Sender) {
	turns, err := d.transcript.LoadTranscript(ctx, sessionID)
	if err != nil {
		turns = []chat.Turn{}
	}
	history, err := json.Marshal(turns)
	if err != nil {
		history = []byte("[]")
	}
	env, err := protocol.NewEnvelope(protocol.EventUnexpectedError, json.RawMessage(history))
	if err != nil {
		return
	}
	if err := out.Send(env); err != nil {
		log.Warn().Err(err).Str("component", "dispatch").Str("session_id", sessionID).Msg("send unexpected_error")
	}
}

func (d *Dispatcher) handleTicket(ctx context.Context, sessionID string, env protocol.Envelope, out Sender) error {
	result, err := d.createTicket(ctx, sessionID, env)
	if err != nil {
		result = protocol.TicketResult{OK: false, Error: err.Error()}
		metrics.RecordTicket("error")
	} else {
		metrics.RecordTicket("ok")
	}

	if env.AckID != "" {
		ack, ackErr := protocol.NewEnvelope(protocol.EventAck, result)
		if ackErr != nil {
			return ackErr
		}
		ack.AckID = env.AckID
		if sendErr := out.Send(ack); sendErr != nil {
			return sendErr
		}
	}
	return err
}

func (d *Dispatcher) createTicket(ctx context.Context, sessionID string, env protocol.Envelope) (protocol.TicketResult, error) {
	if d.tickets == nil {
		return protocol.TicketResult{}, fmt.Errorf("ticketing is not configured")
	}

	var form protocol.TicketForm
	if err := env.Decode(&form); err != nil {
		return protocol.TicketResult{}, err
	}

	history := renderHistory(form.History)
	if history == "" {
		if turns, err := d.transcript.LoadTranscript(ctx, sessionID); err == nil {
			data, _ := json.Marshal(turns)
			history = renderHistory(data)
		}
	}

	details := strings.TrimSpace(form.Details)
	if history != "" {
		details = strings.TrimSpace(details + "\n\nConversation:\n" + history)
	}

	metadata := map[string]string{"session": sessionID}
	for k, v := range form.Metadata {
		metadata[k] = fmt.Sprint(v)
	}

	id, err := d.tickets.Create(ctx, ticket.Request{
		Name:     form.Name,
		Email:    form.Email,
		Subject:  form.Subject,
		Details:  details,
		Metadata: metadata,
	})
	if err != nil {
		return protocol.TicketResult{}, err
	}
	return protocol.TicketResult{OK: true, TicketID: id}, nil
}

func (d *Dispatcher) handleRating(ctx context.Context, sessionID string, env protocol.Envelope) error {
	var rating protocol.Rating
	if err := env.Decode(&rating); err != nil {
		return err
	}
	return d.transcript.RateTurn(ctx, sessionID, rating.MessageID, rating.Rating)
}

func (d *Dispatcher) handleFeedback(ctx context.Context, sessionID string, env protocol.Envelope) error {
	var feedback protocol.Feedback
	if err := env.Decode(&feedback); err != nil {
		return err
	}
	return d.transcript.RecordFeedback(ctx, sessionID, chat.Feedback{Score: feedback.Score, Comment: feedback.Comment})
}

// renderHistory turns either a backend transcript or a client message log
// into plain text for the help desk.
func renderHistory(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		who := firstString(e, "role", "sender")
		text := firstString(e, "content", "text")
		if text == "" {
			continue
		}
		switch who {
		case chat.RoleAssistant, string(chat.SenderChatbot):
			who = "Assistant"
		case chat.RoleUser:
			who = "Patron"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
