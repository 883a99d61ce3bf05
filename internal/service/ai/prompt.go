package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zhouzirui/library-chat/backend/internal/service/tools"
)

// PromptTemplate 描述图书馆助手的系统提示。
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// PromptBuilder renders the system prompt, including the tools the model may call.
type PromptBuilder struct {
	library  string
	template PromptTemplate
	specs    []tools.Spec
}

// NewPromptBuilder creates a builder with the default librarian template.
func NewPromptBuilder(library string, specs []tools.Spec) *PromptBuilder {
	if strings.TrimSpace(library) == "" {
		library = "the library"
	}
	return &PromptBuilder{
		library:  library,
		template: defaultTemplate(),
		specs:    specs,
	}
}

// SystemPrompt returns the full system prompt.
func (pb *PromptBuilder) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, pb.template.SystemPrompt, pb.library)

	b.WriteString("\n\nHow to answer:\n- ")
	b.WriteString(strings.Join(pb.template.Hints, "\n- "))
	b.WriteString("\n\nRules:\n- ")
	b.WriteString(strings.Join(pb.template.Rules, "\n- "))

	if len(pb.specs) == 0 {
		b.WriteString("\n\nYou cannot search the catalogue or change bookings yourself; point patrons to library staff for that.")
		return b.String()
	}

	b.WriteString("\n\nTools:\nWhen you need one of the tools below, reply with a single JSON object and nothing else, in the form ")
	b.WriteString(`{"tool": "<name>", "arguments": {...}}`)
	b.WriteString(". You will then receive the tool result and can answer the patron.\n")
	for _, spec := range pb.specs {
		fmt.Fprintf(&b, "\n* %s: %s\n", spec.Name, spec.Description)
		names := make([]string, 0, len(spec.Parameters))
		for name := range spec.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			required := ""
			if spec.IsRequired(name) {
				required = " (required)"
			}
			fmt.Fprintf(&b, "  - %s%s: %s\n", name, required, spec.Parameters[name])
		}
	}
	return b.String()
}

func defaultTemplate() PromptTemplate {
	return PromptTemplate{
		SystemPrompt: "You are the virtual assistant of %s. You help patrons find materials, understand library services and manage their room bookings.",
		Hints: []string{
			"Keep answers short and friendly; two or three sentences are usually enough",
			"When listing catalogue results, give title, author, year and where to find the item",
			"If you are not sure, say so and suggest asking a librarian",
		},
		Rules: []string{
			"Never invent call numbers, opening hours or booking ids",
			"Only cancel a reservation when the patron gave you the booking id",
			"Do not ask for passwords or payment details",
		},
	}
}

// ToolDirective is a request from the model to run a tool.
type ToolDirective struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolDirective extracts a tool call from model output. ok is false when
// the content is a plain answer.
func ParseToolDirective(content string) (ToolDirective, bool) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return ToolDirective{}, false
	}

	var directive ToolDirective
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &directive); err != nil {
		return ToolDirective{}, false
	}
	if strings.TrimSpace(directive.Tool) == "" {
		return ToolDirective{}, false
	}
	if directive.Arguments == nil {
		directive.Arguments = map[string]any{}
	}
	return directive, true
}
