package main

import (
	"encoding/json"
	"fmt"
	"os"

	"docforge/internal/component"
)

// manifest is the on-disk shape a collaborator (an AST-extraction tool,
// out of scope for this repo per spec.md §1) hands the CLI: the flat
// component universe plus which of those ids are documentable leaves.
// This is the concrete realization of §6's "Components: Map<id,
// Component>" and "LeafSet: Set<id>" external inputs.
type manifest struct {
	Components component.Map `json:"components"`
	LeafSet    []string      `json:"leaf_set"`
}

func loadManifest(path string) (component.Map, component.LeafSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading components manifest %s: %w", path, err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, nil, fmt.Errorf("decoding components manifest %s: %w", path, err)
	}
	return m.Components, component.NewLeafSet(m.LeafSet), nil
}
