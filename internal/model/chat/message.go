package chat

import "time"

// Sender identifies who authored a message in the conversation log.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderChatbot Sender = "chatbot"
)

// Message is one entry of the client-side conversation log.
type Message struct {
	ID     string   `json:"id,omitempty"`
	Text   string   `json:"text"`
	Sender Sender   `json:"sender"`
	Rating *float64 `json:"rating,omitempty"`
}

// Turn persists individual turns on the backend for escalation handoff.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Rating    *float64  `json:"rating,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Roles stored on a Turn; they match the LLM's chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
