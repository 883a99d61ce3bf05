package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

type fakeChannel struct {
	connects int
	err      error
	acks     map[string]AckFunc
}

func (f *fakeChannel) Connect(context.Context) error {
	f.connects++
	return f.err
}

func (f *fakeChannel) TakeAck(id string) AckFunc {
	ack := f.acks[id]
	delete(f.acks, id)
	return ack
}

func newTestController(t *testing.T) (*Controller, *Store, *fakeChannel, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage()
	store, err := NewStore(context.Background(), storage, nil)
	require.NoError(t, err)
	ch := &fakeChannel{acks: map[string]AckFunc{}}
	return NewController(store, ch, "", ""), store, ch, storage
}

func chatbotEvent(t *testing.T, id, text string) Event {
	t.Helper()
	data, err := json.Marshal(protocol.ChatbotMessage{MessageID: id, Message: text})
	require.NoError(t, err)
	return Event{Name: protocol.EventMessage, Data: data}
}

func countText(messages []chat.Message, text string) int {
	n := 0
	for _, m := range messages {
		if m.Text == text {
			n++
		}
	}
	return n
}

func TestWelcomeOncePerLogicalSession(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := newTestController(t)

	c.Start(ctx)
	require.Equal(t, StateConnecting, c.State())

	c.Handle(ctx, Event{Name: protocol.EventConnect})
	for i := 0; i < 5; i++ {
		c.Handle(ctx, Event{Name: protocol.EventDisconnect, Reason: protocol.NetworkLost})
		c.Handle(ctx, Event{Name: protocol.EventConnectError, Err: errors.New("refused")})
		c.Handle(ctx, Event{Name: protocol.EventConnect})
	}

	state := store.Snapshot()
	require.Equal(t, 1, countText(state.Messages, DefaultWelcome))
	require.True(t, state.IsConnected)
	require.Equal(t, StateConnected, c.State())
}

func TestChatbotMessageAppendsAndClearsTyping(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := newTestController(t)
	c.Handle(ctx, Event{Name: protocol.EventConnect})
	store.SetTyping(true)

	c.Handle(ctx, chatbotEvent(t, "42", "Try the 2nd floor."))

	state := store.Snapshot()
	require.False(t, state.IsTyping)
	last := state.Messages[len(state.Messages)-1]
	require.Equal(t, chat.Message{ID: "42", Text: "Try the 2nd floor.", Sender: chat.SenderChatbot}, last)
}

func TestMessagesAppendInDeliveryOrder(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := newTestController(t)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		c.Handle(ctx, chatbotEvent(t, id, "reply "+id))
	}

	state := store.Snapshot()
	require.Len(t, state.Messages, len(ids))
	for i, id := range ids {
		require.Equal(t, id, state.Messages[i].ID)
	}
}

func TestMalformedMessageOnlyClearsTyping(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := newTestController(t)
	store.SetTyping(true)

	c.Handle(ctx, Event{Name: protocol.EventMessage, Data: json.RawMessage(`"not an object"`)})

	state := store.Snapshot()
	require.False(t, state.IsTyping)
	require.Empty(t, state.Messages)
}

func TestUnexpectedErrorSnapshotsHistory(t *testing.T) {
	ctx := context.Background()
	c, store, _, _ := newTestController(t)
	c.Handle(ctx, Event{Name: protocol.EventConnect})
	store.SetTyping(true)

	history := json.RawMessage(`[{"role":"user", "content":"Where is the library?"}]`)
	c.Handle(ctx, Event{Name: protocol.EventUnexpectedError, Data: history})

	state := store.Snapshot()
	require.False(t, state.IsTyping)
	require.False(t, state.IsConnected)
	require.Equal(t, 1, countText(state.Messages, DefaultFallback))
	require.Equal(t, []byte(history), []byte(state.HistorySnapshot))
	require.Equal(t, StateErroring, c.State())
}

func TestClientDisconnectResetsSession(t *testing.T) {
	ctx := context.Background()
	c, store, ch, storage := newTestController(t)
	c.Start(ctx)
	c.Handle(ctx, Event{Name: protocol.EventConnect})
	c.Handle(ctx, chatbotEvent(t, "1", "hello"))
	c.Handle(ctx, Event{Name: protocol.EventUnexpectedError, Data: json.RawMessage(`[]`)})

	for i := 0; i < 2; i++ {
		c.Handle(ctx, Event{Name: protocol.EventDisconnect, Reason: protocol.ClientRequested})

		state := store.Snapshot()
		require.Empty(t, state.Messages)
		require.False(t, state.IsTyping)
		require.Nil(t, state.HistorySnapshot)
		require.True(t, c.curSession)

		data, ok, err := storage.Load(ctx, MessagesKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t, `[]`, string(data))
	}
	require.Equal(t, 3, ch.connects)
	require.Equal(t, StateConnecting, c.State())

	c.Handle(ctx, Event{Name: protocol.EventConnect})
	require.Equal(t, 1, countText(store.Snapshot().Messages, DefaultWelcome))
}

func TestNetworkDisconnectKeepsLog(t *testing.T) {
	ctx := context.Background()
	c, store, ch, _ := newTestController(t)
	c.Handle(ctx, Event{Name: protocol.EventConnect})
	store.SetTyping(true)

	for _, reason := range []protocol.DisconnectReason{protocol.NetworkLost, protocol.ServerClosed, protocol.Timeout} {
		c.Handle(ctx, Event{Name: protocol.EventDisconnect, Reason: reason})
	}

	state := store.Snapshot()
	require.Len(t, state.Messages, 1)
	require.False(t, state.IsTyping)
	require.False(t, state.IsConnected)
	require.True(t, state.AttemptedConnection)
	require.Equal(t, 0, ch.connects)
	require.Equal(t, StateDisconnected, c.State())
}

func TestConnectFailureMarksDisconnected(t *testing.T) {
	ctx := context.Background()
	c, store, ch, _ := newTestController(t)
	ch.err = ErrTransportClosed

	c.Start(ctx)

	state := store.Snapshot()
	require.False(t, state.IsConnected)
	require.True(t, state.AttemptedConnection)
	require.Equal(t, StateDisconnected, c.State())
}

func TestAckInvokesPendingCallback(t *testing.T) {
	ctx := context.Background()
	c, _, ch, _ := newTestController(t)

	var got string
	ch.acks["t1"] = func(data json.RawMessage) { got = string(data) }

	c.Handle(ctx, Event{Name: protocol.EventAck, AckID: "t1", Data: json.RawMessage(`{"ok":true}`)})
	c.Handle(ctx, Event{Name: protocol.EventAck, AckID: "t1", Data: json.RawMessage(`{"ok":false}`)})

	require.Equal(t, `{"ok":true}`, got)
}
