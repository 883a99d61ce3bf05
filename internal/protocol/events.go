// Package protocol defines the event envelope exchanged between the chat
// client and the backend over the websocket channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Events emitted by the client.
const (
	EventMessage      = "message"
	EventCreateTicket = "createTicket"
	EventRating       = "messageRating"
	EventFeedback     = "userFeedback"
)

// Events emitted by the backend.
const (
	EventUnexpectedError = "unexpected_error"
	EventAck             = "ack"
)

// Local lifecycle events raised by the client transport itself.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventConnectError   = "connect_error"
	EventConnectTimeout = "connect_timeout"
)

// Envelope is the single frame shape on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// ChatbotMessage is the payload of an inbound "message" event.
type ChatbotMessage struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// Rating is the payload of "messageRating".
type Rating struct {
	MessageID string  `json:"messageId"`
	Rating    float64 `json:"rating"`
}

// Feedback is the payload of "userFeedback".
type Feedback struct {
	Score   int    `json:"score,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// TicketForm is the payload of "createTicket". History carries the
// conversation snapshot when the ticket is an escalation.
type TicketForm struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Subject  string          `json:"subject"`
	Details  string          `json:"details"`
	History  json.RawMessage `json:"history,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// TicketResult is the ack payload for "createTicket".
type TicketResult struct {
	OK       bool   `json:"ok"`
	TicketID string `json:"ticketId,omitempty"`
	Error    string `json:"error,omitempty"`
}
