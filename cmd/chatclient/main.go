package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/library-chat/backend/internal/client"
	"github.com/zhouzirui/library-chat/backend/internal/config"
	"github.com/zhouzirui/library-chat/backend/internal/logging"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/protocol"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "chatclient",
		Short: "Chat with the library assistant from a terminal",
		Long: `chatclient opens a chat session against the library assistant backend.

Type a question and press enter. Lines starting with "/" are commands;
type /help to list them. The conversation is kept per tab id, in Redis
when --redis-url is set, so restarting with the same --tab-id restores it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVarP(&cfg.SocketURL, "url", "u", cfg.SocketURL, "Websocket URL of the chat backend")
	rootCmd.Flags().StringVarP(&cfg.TabID, "tab-id", "t", cfg.TabID, "Conversation slot; a random one is used when empty")
	rootCmd.Flags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Keep the conversation in Redis instead of memory")
	rootCmd.Flags().StringVar(&cfg.Log.Level, "log-level", "warn", "Log level written to stderr")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, in io.Reader, out io.Writer) error {
	logging.NewWithWriter(cfg.Log, "chatclient", os.Stderr)

	if cfg.TabID == "" {
		cfg.TabID = uuid.NewString()
	}

	var storage client.Storage = client.NewMemoryStorage()
	if cfg.RedisURL != "" {
		redisStorage, err := client.NewRedisStorage(ctx, cfg.RedisURL, cfg.RedisPrefix, cfg.TabID, cfg.RedisTTL)
		if err != nil {
			return fmt.Errorf("open redis storage: %w", err)
		}
		defer redisStorage.Close()
		storage = redisStorage
	}

	svc, err := client.NewSessionService(ctx, client.Options{URL: cfg.SocketURL, Storage: storage})
	if err != nil {
		return err
	}
	defer svc.Close()

	updates, cancel := svc.Subscribe()
	defer cancel()

	r := newRenderer(out)
	r.render(svc.Snapshot())
	go func() {
		for state := range updates {
			r.render(state)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintf(out, "tab %s, type /help for commands\n", cfg.TabID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(svc, r, parseCommand(line))
			if err != nil {
				r.notice(err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one parsed command against the session.
func execute(svc *client.SessionService, r *renderer, c command) (bool, error) {
	switch c.kind {
	case cmdNone:
		return false, nil
	case cmdQuit:
		return true, nil
	case cmdHelp:
		r.notice(helpText)
		return false, nil
	case cmdInvalid:
		return false, c.err
	case cmdSay:
		return false, svc.SendMessage(c.text)
	case cmdRate:
		id := c.messageID
		if id == "" {
			id = lastChatbotMessageID(svc.Snapshot())
		}
		if id == "" {
			return false, errors.New("no chatbot message to rate")
		}
		return false, svc.SubmitRating(id, c.rating)
	case cmdFeedback:
		return false, svc.SubmitFeedback(protocol.Feedback{Score: c.score, Comment: c.text})
	case cmdTicket, cmdEscalate:
		form := protocol.TicketForm{Email: c.email, Subject: c.subject, Details: c.text}
		onResult := func(res protocol.TicketResult) { r.notice(ticketNotice(res)) }
		if c.kind == cmdEscalate {
			return false, svc.Escalate(form, onResult)
		}
		history, err := json.Marshal(svc.Snapshot().Messages)
		if err != nil {
			return false, err
		}
		form.History = history
		return false, svc.SubmitTicket(form, onResult)
	case cmdRetry:
		return false, svc.Retry()
	case cmdReset:
		return false, svc.Disconnect()
	}
	return false, nil
}

func lastChatbotMessageID(state client.ConversationState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Sender == chat.SenderChatbot && m.ID != "" {
			return m.ID
		}
	}
	return ""
}

func ticketNotice(res protocol.TicketResult) string {
	if res.OK {
		return "ticket created: " + res.TicketID
	}
	return "ticket failed: " + res.Error
}
