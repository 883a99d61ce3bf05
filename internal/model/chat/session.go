package chat

import "time"

// Session captures one backend-side conversation bound to a socket.
type Session struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	Feedback  *Feedback  `json:"feedback,omitempty"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Feedback is the closing survey a user submits at the end of a conversation.
type Feedback struct {
	Score       int       `json:"score,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}
