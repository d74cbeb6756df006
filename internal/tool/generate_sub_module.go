package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubModuleGenerator is supplied by the orchestrator: it recursively
// runs a nested documentation pass over a subset of the calling
// module's component ids and returns the generated Markdown. Kept as a
// function value (rather than an interface import) so this package
// never depends on internal/orchestrator — the orchestrator depends on
// tool, not the reverse.
type SubModuleGenerator func(ctx context.Context, name, description string, componentIDs []string) (string, error)

// generateSubModuleTool implements generate_sub_module_documentation,
// available only when the calling module was classified complex
// (§4.5.1's complexity test) — the orchestrator decides whether to
// register this tool per call, not this type itself.
type generateSubModuleTool struct {
	generate SubModuleGenerator
}

// NewGenerateSubModuleDocumentation builds the tool bound to gen.
func NewGenerateSubModuleDocumentation(gen SubModuleGenerator) Tool {
	return &generateSubModuleTool{generate: gen}
}

func (t *generateSubModuleTool) Spec() Spec {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":          map[string]any{"type": "string"},
			"description":   map[string]any{"type": "string"},
			"component_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"name", "component_ids"},
	})
	return Spec{
		Name:        "generate_sub_module_documentation",
		Description: "Split out a sub-module covering the given component ids and recursively generate its documentation.",
		InputSchema: schema,
	}
}

type generateSubModuleInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ComponentIDs []string `json:"component_ids"`
}

func (t *generateSubModuleTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in generateSubModuleInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("generate_sub_module_documentation: invalid input: %w", err)
	}
	if in.Name == "" || len(in.ComponentIDs) == 0 {
		return "", fmt.Errorf("generate_sub_module_documentation: name and component_ids are required")
	}
	if t.generate == nil {
		return "", fmt.Errorf("generate_sub_module_documentation: no generator configured")
	}
	return t.generate(ctx, in.Name, in.Description, in.ComponentIDs)
}
