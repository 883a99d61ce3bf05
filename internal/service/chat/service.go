package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
	ErrInvalidRating   = errors.New("rating must be between 0 and 5")
)

// Service keeps the backend transcript of every socket session so a human
// can pick up an escalated conversation.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
	now      func() time.Time
}

// NewService bootstraps the in-memory transcript store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session for a newly opened socket.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// AppendTurn stores a turn. An empty ID is replaced with a fresh one.
func (s *Service) AppendTurn(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// RateTurn records a patron's rating of a chatbot answer.
func (s *Service) RateTurn(_ context.Context, sessionID, turnID string, rating float64) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for i := range turns {
		if turns[i].ID == turnID {
			r := rating
			turns[i].Rating = &r
			return nil
		}
	}
	return ErrTurnNotFound
}

// RecordFeedback stores the closing survey and marks the session closed.
func (s *Service) RecordFeedback(_ context.Context, sessionID string, feedback chat.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := s.now()
	if feedback.SubmittedAt.IsZero() {
		feedback.SubmittedAt = now
	}
	session.Feedback = &feedback
	if session.ClosedAt == nil {
		session.ClosedAt = &now
	}
	s.sessions[sessionID] = session
	return nil
}

// CloseSession marks the session closed once its socket is gone.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.ClosedAt == nil {
		now := s.now()
		session.ClosedAt = &now
		s.sessions[sessionID] = session
	}
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns stored turns for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	for i, t := range turns {
		if t.Rating != nil {
			r := *t.Rating
			t.Rating = &r
		}
		copied[i] = t
	}
	return copied, nil
}

// PruneClosed drops sessions closed before cutoff and returns how many went.
func (s *Service) PruneClosed(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, session := range s.sessions {
		if session.ClosedAt != nil && session.ClosedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.turns, id)
			pruned++
		}
	}
	return pruned
}
