// Package tools holds the actions the model may ask the backend to run.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/metrics"
)

// Spec describes a tool to the model.
type Spec struct {
	Name        string
	Description string
	// Parameters maps parameter names to a short description.
	Parameters map[string]string
	Required   []string
}

// IsRequired reports whether name must be supplied.
func (s Spec) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Tool is a side-effecting adapter the model can invoke.
type Tool interface {
	Spec() Spec
	Run(ctx context.Context, args Args) (string, error)
}

// Args are the decoded arguments of a tool call.
type Args map[string]any

// String returns the argument as trimmed text. Numbers are formatted.
func (a Args) String(name string) (string, bool) {
	switch v := a[name].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Int returns the argument as an int or def when absent or unparsable.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Registry dispatches tool calls by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = t
	r.order = append(r.order, spec.Name)
	return nil
}

// Specs lists the registered tools in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Invoke runs the named tool. Failures come back as text for the model to
// relay, never as errors.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		metrics.RecordToolCall(name, "unknown_tool")
		return fmt.Sprintf("There is no tool called %q.", name)
	}

	spec := tool.Spec()
	for _, required := range spec.Required {
		if _, present := Args(args).String(required); !present {
			metrics.RecordToolCall(name, "missing_parameter")
			return fmt.Sprintf("The %s tool needs the %q parameter, which was not provided.", name, required)
		}
	}

	result, err := tool.Run(ctx, Args(args))
	if err != nil {
		metrics.RecordToolCall(name, "error")
		log.Warn().Err(err).Str("component", "tools").Str("tool", name).Msg("tool failed")
		return fmt.Sprintf("The %s tool failed: %v", name, err)
	}
	metrics.RecordToolCall(name, "ok")
	return result
}
