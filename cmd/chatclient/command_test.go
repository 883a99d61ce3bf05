package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/library-chat/backend/internal/client"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want command
	}{
		{"", command{kind: cmdNone}},
		{"  where is the library?  ", command{kind: cmdSay, text: "where is the library?"}},
		{"/quit", command{kind: cmdQuit}},
		{"/retry", command{kind: cmdRetry}},
		{"/rate 4", command{kind: cmdRate, rating: 4}},
		{"/rate 5 42", command{kind: cmdRate, rating: 5, messageID: "42"}},
		{"/feedback 3 quick and helpful", command{kind: cmdFeedback, score: 3, text: "quick and helpful"}},
		{"/ticket ada@example.org Hours need a call", command{kind: cmdTicket, email: "ada@example.org", subject: "Hours", text: "need a call"}},
		{"/escalate ada@example.org Broken", command{kind: cmdEscalate, email: "ada@example.org", subject: "Broken"}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, parseCommand(tc.line), tc.line)
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, line := range []string{"/rate", "/rate nine", "/rate 7", "/feedback", "/feedback x", "/ticket a@b.c", "/dance"} {
		c := parseCommand(line)
		require.Equal(t, cmdInvalid, c.kind, line)
		require.Error(t, c.err, line)
	}
}

func TestRendererPrintsNewMessagesOnce(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)

	state := client.ConversationState{
		IsConnected: true,
		Messages:    []chat.Message{{Text: "Hi! How can I help you today?", Sender: chat.SenderChatbot}},
	}
	r.render(state)
	state.Messages = append(state.Messages, chat.Message{Text: "Where is the library?", Sender: chat.SenderUser})
	state.IsTyping = true
	r.render(state)
	r.render(state)

	got := out.String()
	require.Equal(t, 1, strings.Count(got, "bot: Hi! How can I help you today?"))
	require.Equal(t, 1, strings.Count(got, "you: Where is the library?"))
	require.Equal(t, 1, strings.Count(got, "..."))
}

func TestRendererReportsResetAndConnection(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)

	r.render(client.ConversationState{IsConnected: true, Messages: []chat.Message{
		{Text: "welcome", Sender: chat.SenderChatbot},
		{Text: "hello", Sender: chat.SenderUser},
	}})
	r.render(client.ConversationState{IsConnected: false, Messages: nil})
	r.render(client.ConversationState{IsConnected: true, Messages: []chat.Message{{Text: "welcome", Sender: chat.SenderChatbot}}})

	got := out.String()
	require.Contains(t, got, "* connection lost")
	require.Contains(t, got, "* new conversation")
	require.Contains(t, got, "* connected")
	require.Equal(t, 2, strings.Count(got, "bot: welcome"))
}

func TestLastChatbotMessageID(t *testing.T) {
	state := client.ConversationState{Messages: []chat.Message{
		{ID: "1", Sender: chat.SenderChatbot},
		{Sender: chat.SenderUser},
		{ID: "2", Sender: chat.SenderChatbot},
		{Sender: chat.SenderUser},
	}}
	require.Equal(t, "2", lastChatbotMessageID(state))
	require.Empty(t, lastChatbotMessageID(client.ConversationState{}))
}
