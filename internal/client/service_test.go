package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

type echoServer struct {
	*httptest.Server
	received chan protocol.Envelope

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{received: make(chan protocol.Envelope, 32)}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.Close()

		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.received <- env

			switch env.Event {
			case protocol.EventMessage:
				var text string
				_ = json.Unmarshal(env.Data, &text)
				if text == "explode" {
					reply, _ := protocol.NewEnvelope(protocol.EventUnexpectedError, json.RawMessage(`[{"role":"user","content":"explode"}]`))
					_ = conn.WriteJSON(reply)
					continue
				}
				reply, _ := protocol.NewEnvelope(protocol.EventMessage, protocol.ChatbotMessage{MessageID: "42", Message: "echo: " + text})
				_ = conn.WriteJSON(reply)
			case protocol.EventCreateTicket:
				ack, _ := protocol.NewEnvelope(protocol.EventAck, protocol.TicketResult{OK: true, TicketID: "T-1"})
				ack.AckID = env.AckID
				_ = conn.WriteJSON(ack)
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *echoServer) dropLatest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		_ = s.conns[len(s.conns)-1].UnderlyingConn().Close()
	}
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/socket"
}

func (s *echoServer) expect(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-s.received:
			if env.Event == event {
				return env
			}
		case <-timeout:
			t.Fatalf("no %s frame received", event)
		}
	}
}

func fastTransport() *TransportOptions {
	return &TransportOptions{
		HandshakeTimeout: time.Second,
		Reconnect:        true,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(20 * time.Millisecond)
		},
	}
}

func startService(t *testing.T, url string, storage Storage) *SessionService {
	t.Helper()
	svc, err := NewSessionService(context.Background(), Options{URL: url, Storage: storage, Transport: fastTransport()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc
}

// barrier waits until every action queued before it has run.
func barrier(t *testing.T, svc *SessionService) {
	t.Helper()
	ran := make(chan struct{})
	require.NoError(t, svc.enqueue(func(context.Context) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("session loop stalled")
	}
}

func waitConnected(t *testing.T, svc *SessionService) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.Snapshot().IsConnected }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionServiceMessageRoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	svc := startService(t, srv.wsURL(), nil)
	waitConnected(t, svc)

	require.NoError(t, svc.SendMessage("Where is the library?"))
	env := srv.expect(t, protocol.EventMessage)
	require.JSONEq(t, `"Where is the library?"`, string(env.Data))

	require.Eventually(t, func() bool { return len(svc.Snapshot().Messages) == 3 }, 2*time.Second, 10*time.Millisecond)
	state := svc.Snapshot()
	require.False(t, state.IsTyping)
	require.Equal(t, DefaultWelcome, state.Messages[0].Text)
	require.Equal(t, chat.Message{Text: "Where is the library?", Sender: chat.SenderUser}, state.Messages[1])
	require.Equal(t, chat.Message{ID: "42", Text: "echo: Where is the library?", Sender: chat.SenderChatbot}, state.Messages[2])
	require.Equal(t, StateConnected, svc.State())
}

func TestSessionServiceSendWhileDisconnectedIsNoop(t *testing.T) {
	srv := newEchoServer(t)
	url := srv.wsURL()
	srv.Close()

	opts := fastTransport()
	opts.Reconnect = false
	svc, err := NewSessionService(context.Background(), Options{URL: url, Transport: opts})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Snapshot().AttemptedConnection }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.SendMessage("Where is the library?"))
	barrier(t, svc)

	state := svc.Snapshot()
	require.False(t, state.IsConnected)
	require.False(t, state.IsTyping)
	require.Empty(t, state.Messages)
	require.Equal(t, StateDisconnected, svc.State())
}

func TestSessionServiceFeedbackStartsFreshSession(t *testing.T) {
	srv := newEchoServer(t)
	svc := startService(t, srv.wsURL(), nil)
	waitConnected(t, svc)

	require.NoError(t, svc.SendMessage("hello"))
	require.Eventually(t, func() bool { return len(svc.Snapshot().Messages) == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.SubmitFeedback(protocol.Feedback{Score: 5, Comment: "great"}))
	env := srv.expect(t, protocol.EventFeedback)
	require.JSONEq(t, `{"score":5,"comment":"great"}`, string(env.Data))

	require.Eventually(t, func() bool {
		state := svc.Snapshot()
		return srv.connCount() == 2 && state.IsConnected && len(state.Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, DefaultWelcome, svc.Snapshot().Messages[0].Text)
}

func TestSessionServiceReconnectKeepsConversation(t *testing.T) {
	srv := newEchoServer(t)
	storage := NewMemoryStorage()
	svc := startService(t, srv.wsURL(), storage)
	waitConnected(t, svc)

	require.NoError(t, svc.SendMessage("hello"))
	require.Eventually(t, func() bool { return len(svc.Snapshot().Messages) == 3 }, 2*time.Second, 10*time.Millisecond)

	srv.dropLatest()
	require.Eventually(t, func() bool {
		return srv.connCount() == 2 && svc.Snapshot().IsConnected
	}, 2*time.Second, 10*time.Millisecond)

	state := svc.Snapshot()
	require.Len(t, state.Messages, 3)
	require.Equal(t, 1, countText(state.Messages, DefaultWelcome))

	restored, err := NewStore(context.Background(), storage, nil)
	require.NoError(t, err)
	require.Equal(t, state.Messages, restored.Snapshot().Messages)
}

func TestSessionServiceEscalateAfterUnexpectedError(t *testing.T) {
	srv := newEchoServer(t)
	svc := startService(t, srv.wsURL(), nil)
	waitConnected(t, svc)

	require.NoError(t, svc.SendMessage("explode"))
	require.Eventually(t, func() bool { return svc.State() == StateErroring }, 2*time.Second, 10*time.Millisecond)

	state := svc.Snapshot()
	require.False(t, state.IsConnected)
	require.False(t, state.IsTyping)
	require.Equal(t, `[{"role":"user","content":"explode"}]`, string(state.HistorySnapshot))

	results := make(chan protocol.TicketResult, 1)
	require.NoError(t, svc.Escalate(protocol.TicketForm{Name: "Ada", Email: "ada@example.org", Subject: "Help"}, func(r protocol.TicketResult) {
		results <- r
	}))

	env := srv.expect(t, protocol.EventCreateTicket)
	require.NotEmpty(t, env.AckID)
	var form protocol.TicketForm
	require.NoError(t, env.Decode(&form))
	require.Equal(t, `[{"role":"user","content":"explode"}]`, string(form.History))

	select {
	case r := <-results:
		require.True(t, r.OK)
		require.Equal(t, "T-1", r.TicketID)
	case <-time.After(2 * time.Second):
		t.Fatal("ticket ack not delivered")
	}
}

func TestSessionServiceRatingAndSubscribe(t *testing.T) {
	srv := newEchoServer(t)
	svc := startService(t, srv.wsURL(), nil)
	updates, unsubscribe := svc.Subscribe()
	defer unsubscribe()
	waitConnected(t, svc)

	require.NoError(t, svc.SendMessage("hello"))
	require.Eventually(t, func() bool { return len(svc.Snapshot().Messages) == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.SubmitRating("42", 4))
	env := srv.expect(t, protocol.EventRating)
	require.JSONEq(t, `{"messageId":"42","rating":4}`, string(env.Data))

	require.Eventually(t, func() bool {
		select {
		case st := <-updates:
			last := st.Messages[len(st.Messages)-1]
			return last.Rating != nil && *last.Rating == 4
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionServiceCloseIsIdempotent(t *testing.T) {
	svc, err := NewSessionService(context.Background(), Options{URL: "ws://127.0.0.1:1/socket"})
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	require.ErrorIs(t, svc.SendMessage("late"), ErrTransportClosed)

	updates, _ := svc.Subscribe()
	_, open := <-updates
	require.False(t, open)
}

func TestSessionServiceResetTwiceDuringSlowHandshake(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			time.Sleep(300 * time.Millisecond)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	svc := startService(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
	waitConnected(t, svc)

	require.NoError(t, svc.Disconnect())
	require.Eventually(t, func() bool {
		return svc.State() == StateConnecting && dials.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Disconnect())

	require.Eventually(t, func() bool {
		state := svc.Snapshot()
		return svc.State() == StateConnected && state.IsConnected && len(state.Messages) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, DefaultWelcome, svc.Snapshot().Messages[0].Text)
	require.GreaterOrEqual(t, dials.Load(), int32(3))
}
