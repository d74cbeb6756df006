package moduletree

import (
	"encoding/json"
	"sort"
)

// jsonModule mirrors the persisted schema for one module (see
// module_tree.json in spec.md §6).
type jsonModule struct {
	Description string          `json:"description"`
	Components  []string        `json:"components"`
	DocStatus   DocStatus       `json:"doc_status"`
	DocPath     string          `json:"doc_path"`
	Children    json.RawMessage `json:"children,omitempty"`
}

// MarshalJSON renders the tree as {name: jsonModule, ...}. Map key order
// is not semantically meaningful JSON, and encoding/json already emits
// map keys sorted — callers that need the Clusterer's original child
// order should read Tree.Names() instead of relying on on-disk order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	out := make(map[string]jsonModule, t.Len())
	for _, name := range t.Names() {
		m := t.Get(name)
		out[name] = moduleToJSON(m)
	}
	return json.Marshal(out)
}

func moduleToJSON(m *Module) jsonModule {
	jm := jsonModule{
		Description: m.Description,
		Components:  m.ComponentIDs,
		DocStatus:   m.DocStatus,
		DocPath:     m.DocPath,
	}
	if m.Children != nil && m.Children.Len() > 0 {
		b, _ := m.Children.MarshalJSON()
		jm.Children = b
	}
	if jm.Components == nil {
		jm.Components = []string{}
	}
	return jm
}

// UnmarshalJSON restores a tree, assigning deterministic ASCII-sorted
// order to siblings (the order the Clusterer's LLM returned them in is
// not recoverable from a JSON object, so resumed runs iterate siblings
// alphabetically; this does not affect correctness since sibling
// execution is unordered per §5).
func (t *Tree) UnmarshalJSON(data []byte) error {
	raw := map[string]jsonModule{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	t.order = nil
	t.modules = make(map[string]*Module, len(names))
	for _, name := range names {
		jm := raw[name]
		m := &Module{
			Name:         name,
			Description:  jm.Description,
			ComponentIDs: jm.Components,
			DocStatus:    jm.DocStatus,
			DocPath:      jm.DocPath,
		}
		if len(jm.Children) > 0 {
			children := NewTree()
			if err := children.UnmarshalJSON(jm.Children); err != nil {
				return err
			}
			m.Children = children
		}
		t.Put(m)
	}
	return nil
}
