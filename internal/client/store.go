package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
)

// ConversationState is what a renderer needs to draw the chat.
type ConversationState struct {
	Messages            []chat.Message  `json:"messages"`
	IsTyping            bool            `json:"isTyping"`
	IsConnected         bool            `json:"isConnected"`
	AttemptedConnection bool            `json:"attemptedConnection"`
	HistorySnapshot     json.RawMessage `json:"conversationHistory,omitempty"`
}

func (s ConversationState) clone() ConversationState {
	out := s
	out.Messages = make([]chat.Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Rating != nil {
			r := *m.Rating
			m.Rating = &r
		}
		out.Messages[i] = m
	}
	if s.HistorySnapshot != nil {
		out.HistorySnapshot = append(json.RawMessage(nil), s.HistorySnapshot...)
	}
	return out
}

// Store holds the conversation state. Mutators are called from the session
// loop only; Snapshot is safe from any goroutine.
type Store struct {
	mu       sync.RWMutex
	state    ConversationState
	storage  Storage
	onChange func(ConversationState)
}

// NewStore restores the message log from storage when a previous log exists.
func NewStore(ctx context.Context, storage Storage, onChange func(ConversationState)) (*Store, error) {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Store{storage: storage, onChange: onChange}

	data, ok, err := storage.Load(ctx, MessagesKey)
	if err != nil {
		return nil, fmt.Errorf("load conversation log: %w", err)
	}
	if ok && len(data) > 0 {
		var messages []chat.Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("decode conversation log: %w", err)
		}
		s.state.Messages = messages
	}
	return s, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Append adds a message to the end of the log and persists the log.
func (s *Store) Append(ctx context.Context, text string, sender chat.Sender, id string) error {
	return s.mutateMessages(ctx, func(st *ConversationState) {
		st.Messages = append(st.Messages, chat.Message{ID: id, Text: text, Sender: sender})
	})
}

// Rate records a rating on the message with the given id. Unknown ids are
// ignored.
func (s *Store) Rate(ctx context.Context, id string, rating float64) error {
	return s.mutateMessages(ctx, func(st *ConversationState) {
		for i := range st.Messages {
			if st.Messages[i].ID == id {
				r := rating
				st.Messages[i].Rating = &r
				return
			}
		}
	})
}

// ResetAll clears the log, the typing flag and the history snapshot.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.mutateMessages(ctx, func(st *ConversationState) {
		st.Messages = nil
		st.IsTyping = false
		st.HistorySnapshot = nil
	})
}

// SetTyping flips the typing indicator.
func (s *Store) SetTyping(typing bool) {
	s.mutate(func(st *ConversationState) { st.IsTyping = typing })
}

// SetConnection updates the connection status flags.
func (s *Store) SetConnection(connected, attempted bool) {
	s.mutate(func(st *ConversationState) {
		st.IsConnected = connected
		st.AttemptedConnection = attempted
	})
}

// SnapshotHistory keeps the backend-supplied history verbatim for escalation.
func (s *Store) SnapshotHistory(raw json.RawMessage) {
	s.mutate(func(st *ConversationState) {
		st.HistorySnapshot = append(json.RawMessage(nil), raw...)
	})
}

func (s *Store) mutate(fn func(*ConversationState)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *Store) mutateMessages(ctx context.Context, fn func(*ConversationState)) error {
	s.mu.Lock()
	fn(&s.state)
	messages := s.state.Messages
	if messages == nil {
		messages = []chat.Message{}
	}
	data, err := json.Marshal(messages)
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err == nil {
		err = s.storage.Save(ctx, MessagesKey, data)
	}
	s.notify(snapshot)
	if err != nil {
		return fmt.Errorf("persist conversation log: %w", err)
	}
	return nil
}

func (s *Store) notify(state ConversationState) {
	if s.onChange != nil {
		s.onChange(state)
	}
}
