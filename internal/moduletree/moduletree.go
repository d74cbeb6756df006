// Package moduletree holds the hierarchical documentation-module tree:
// the Clusterer's output and the Scheduler/Orchestrator's persisted
// completion state.
package moduletree

import (
	"fmt"
	"sort"
)

// DocStatus is a module's documentation lifecycle state.
type DocStatus string

const (
	StatusAbsent     DocStatus = "absent"
	StatusInProgress DocStatus = "in_progress"
	StatusDone       DocStatus = "done"
	StatusFailed     DocStatus = "failed"
)

// Module is one node of the documentation tree.
type Module struct {
	Name         string    `json:"-"`
	Description  string    `json:"description"`
	ComponentIDs []string  `json:"components"`
	DocStatus    DocStatus `json:"doc_status"`
	DocPath      string    `json:"doc_path"`
	Children     *Tree     `json:"children,omitempty"`
}

// IsLeaf reports whether m has no children.
func (m *Module) IsLeaf() bool {
	return m.Children == nil || len(m.Children.order) == 0
}

// Tree is an ordered name→Module mapping. Order matters: it is the order
// modules were produced by the Clusterer; a tree loaded from disk has its
// siblings in ASCII-sorted order instead (see UnmarshalJSON).
type Tree struct {
	order   []string
	modules map[string]*Module
}

// NewTree returns an empty ordered tree.
func NewTree() *Tree {
	return &Tree{modules: map[string]*Module{}}
}

// Put inserts or replaces a module, appending to the order if new.
func (t *Tree) Put(m *Module) {
	if _, exists := t.modules[m.Name]; !exists {
		t.order = append(t.order, m.Name)
	}
	t.modules[m.Name] = m
}

// Get returns the named module, or nil if absent.
func (t *Tree) Get(name string) *Module {
	if t == nil {
		return nil
	}
	return t.modules[name]
}

// Names returns sibling names in insertion order.
func (t *Tree) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of direct children.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Walk visits every module in the tree depth-first, pre-order, passing the
// path of names from the top level (e.g. ["parser", "lexer"]) to fn. Stops and returns the first
// error fn produces.
func (t *Tree) Walk(fn func(path []string, m *Module) error) error {
	return walk(t, nil, fn)
}

func walk(t *Tree, prefix []string, fn func(path []string, m *Module) error) error {
	if t == nil {
		return nil
	}
	for _, name := range t.order {
		m := t.modules[name]
		path := append(append([]string{}, prefix...), name)
		if err := fn(path, m); err != nil {
			return err
		}
		if err := walk(m.Children, path, fn); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the maximum depth of the tree, where a tree with only
// root-level leaf modules has depth 1.
func (t *Tree) Depth() int {
	max := 0
	_ = t.Walk(func(path []string, m *Module) error {
		if len(path) > max {
			max = len(path)
		}
		return nil
	})
	return max
}

// AllComponentIDs collects every component id owned by any module in the
// tree, used to check the partition invariant (I1).
func (t *Tree) AllComponentIDs() []string {
	var ids []string
	_ = t.Walk(func(_ []string, m *Module) error {
		ids = append(ids, m.ComponentIDs...)
		return nil
	})
	return ids
}

// ValidateInvariants checks I1, I2, I4, I6 against the given component id
// universe and max depth. I3/I5 require filesystem/token context and are
// checked by the Store and Clusterer respectively.
func (t *Tree) ValidateInvariants(universe map[string]struct{}, maxDepth int) error {
	seen := map[string]string{}
	var err error
	walkErr := t.Walk(func(path []string, m *Module) error {
		if err != nil {
			return err
		}
		if len(path) > maxDepth {
			return fmt.Errorf("moduletree: depth %d exceeds max_depth %d at %v", len(path), maxDepth, path)
		}
		for _, id := range m.ComponentIDs {
			if _, ok := universe[id]; !ok {
				return fmt.Errorf("moduletree: component %q in module %v not present in input set", id, path)
			}
			if owner, dup := seen[id]; dup {
				return fmt.Errorf("moduletree: component %q owned by both %q and %v", id, owner, path)
			}
			seen[id] = fmt.Sprint(path)
		}
		if m.DocStatus == StatusDone && m.Children != nil {
			for _, name := range m.Children.order {
				child := m.Children.modules[name]
				if child.DocStatus != StatusDone {
					return fmt.Errorf("moduletree: module %v marked done but child %q is %q", path, name, child.DocStatus)
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return checkSiblingNames(t)
}

func checkSiblingNames(t *Tree) error {
	var err error
	visit := func(tr *Tree) error {
		if tr == nil {
			return nil
		}
		seen := map[string]struct{}{}
		for _, name := range tr.order {
			if name == "" {
				return fmt.Errorf("moduletree: empty sibling name")
			}
			for _, r := range name {
				if r == '/' || r == '\\' || r == 0 {
					return fmt.Errorf("moduletree: sibling name %q contains a forbidden character", name)
				}
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("moduletree: duplicate sibling name %q", name)
			}
			seen[name] = struct{}{}
		}
		return nil
	}
	_ = t.Walk(func(_ []string, m *Module) error {
		if err != nil {
			return err
		}
		err = visit(m.Children)
		return err
	})
	if err != nil {
		return err
	}
	return visit(t)
}

// SortedNames returns t's top-level names in ASCII order, for
// deterministic iteration.
func SortedNames(t *Tree) []string {
	names := t.Names()
	sort.Strings(names)
	return names
}
