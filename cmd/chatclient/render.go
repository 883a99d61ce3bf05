package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/zhouzirui/library-chat/backend/internal/client"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
)

// renderer prints conversation updates as a scrolling transcript.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	printed   int
	started   bool
	connected bool
	typing    bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) render(state client.ConversationState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && state.IsConnected != r.connected {
		if state.IsConnected {
			fmt.Fprintln(r.out, "* connected")
		} else {
			fmt.Fprintln(r.out, "* connection lost, reconnecting")
		}
	}
	r.connected = state.IsConnected
	r.started = true

	if len(state.Messages) < r.printed {
		fmt.Fprintln(r.out, "* new conversation")
		r.printed = 0
	}
	for _, m := range state.Messages[r.printed:] {
		fmt.Fprintf(r.out, "%s: %s\n", label(m.Sender), m.Text)
	}
	r.printed = len(state.Messages)

	if state.IsTyping && !r.typing {
		fmt.Fprintln(r.out, "  ...")
	}
	r.typing = state.IsTyping
}

func (r *renderer) notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "* %s\n", msg)
}

func label(s chat.Sender) string {
	if s == chat.SenderUser {
		return "you"
	}
	return "bot"
}
