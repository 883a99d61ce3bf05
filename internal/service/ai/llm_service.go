package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/config"
	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	"github.com/zhouzirui/library-chat/backend/internal/service/tools"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty model response")

// Usage is the token accounting reported by the provider.
type Usage struct {
	Prompt     int `json:"promptTokens"`
	Completion int `json:"completionTokens"`
	Total      int `json:"totalTokens"`
}

// Reply is one model answer.
type Reply struct {
	Text  string
	Usage Usage
}

// Service encapsulates the LLM chain used to answer patrons.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompt       *PromptBuilder
	historyLimit int
}

// NewService builds the Ark chat model from configuration and wraps it.
func NewService(ctx context.Context, cfg config.AIConfig, specs []tools.Spec) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, NewPromptBuilder(cfg.LibraryName, specs), cfg.HistoryLimit)
}

// NewServiceWithModel compiles the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, builder *PromptBuilder, historyLimit int) (*Service, error) {
	if builder == nil {
		builder = NewPromptBuilder("", nil)
	}
	if historyLimit < 1 {
		historyLimit = 12
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable, prompt: builder, historyLimit: historyLimit}, nil
}

// Generate answers query given the earlier turns of the conversation.
func (s *Service) Generate(ctx context.Context, history []chat.Turn, query string) (Reply, error) {
	input := map[string]any{
		"system":  s.prompt.SystemPrompt(),
		"history": s.buildHistoryMessages(history),
		"query":   query,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return Reply{}, ErrEmptyResponse
	}

	reply := Reply{Text: strings.TrimSpace(response.Content)}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		u := response.ResponseMeta.Usage
		reply.Usage = Usage{Prompt: u.PromptTokens, Completion: u.CompletionTokens, Total: u.TotalTokens}
	}

	log.Debug().
		Str("component", "ai").
		Int("length", len(reply.Text)).
		Int("total_tokens", reply.Usage.Total).
		Msg("generated response")
	return reply, nil
}

func (s *Service) buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > s.historyLimit {
		startIdx = len(turns) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
