// Package tool implements the three fixed tools the API-mode agent loop
// exposes (§4.5.1): read_code_components, str_replace_editor, and
// generate_sub_module_documentation. The registry shape is adapted from
// the teacher's internal/mcp/registry.go.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Spec documents a tool's contract.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Tool is one callable action in the agent loop's tool-call vocabulary.
type Tool interface {
	Spec() Spec
	Call(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry holds the tool set available to a single agent loop run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds a registry preloaded with tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	spec := t.Spec()
	if spec.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = t
}

// Call dispatches to a registered tool. A tool error is returned as a
// plain error, not specially wrapped — the agent loop is responsible
// for turning it into a tool-result-as-text message (§4.5.1's
// tool-error-becomes-text-result semantics), the Call layer itself
// stays a normal Go error return.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	if r == nil {
		return "", fmt.Errorf("tool: registry is nil")
	}
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool: unknown tool %q", name)
	}
	return t.Call(ctx, input)
}

// Specs returns every registered tool's Spec, in no particular order.
func (r *Registry) Specs() []Spec {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	return out
}
