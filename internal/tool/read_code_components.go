package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docforge/internal/component"
)

// readComponentsTool implements read_code_components: given a list of
// component ids, returns each one's source slice, grounded on the
// teacher's fs.read tool but keyed by component id instead of a raw
// file path/offset, since the agent only ever knows ids from the
// leaf module's component list (§4.5.1).
type readComponentsTool struct {
	components component.Map
}

// NewReadCodeComponents builds the read_code_components tool over the
// full component universe; a call may read any id in that map, not only
// the ids the calling module owns.
func NewReadCodeComponents(components component.Map) Tool {
	return &readComponentsTool{components: components}
}

func (t *readComponentsTool) Spec() Spec {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"component_ids": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"component_ids"},
	})
	return Spec{
		Name:        "read_code_components",
		Description: "Return the source code and metadata for one or more component ids.",
		InputSchema: schema,
	}
}

type readComponentsInput struct {
	ComponentIDs []string `json:"component_ids"`
}

func (t *readComponentsTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	var in readComponentsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("read_code_components: invalid input: %w", err)
	}
	if len(in.ComponentIDs) == 0 {
		return "", fmt.Errorf("read_code_components: component_ids is required")
	}

	var sb strings.Builder
	var missing []string
	for _, id := range in.ComponentIDs {
		c, ok := t.components[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		fmt.Fprintf(&sb, "### %s (%s) — %s:%d-%d\n```\n%s\n```\n\n", c.ID, c.Kind, c.FilePath, c.StartLine, c.EndLine, c.SourceCode)
	}
	if len(missing) == len(in.ComponentIDs) {
		return "", fmt.Errorf("read_code_components: none of the requested ids were found")
	}
	if len(missing) > 0 {
		fmt.Fprintf(&sb, "(unknown component ids: %s)\n", strings.Join(missing, ", "))
	}
	return sb.String(), nil
}
