package dag

import "testing"

func TestToposort_OrdersDependenciesFirst(t *testing.T) {
	g := New(4)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(0, 3)

	order, err := g.Toposort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[int]int, len(order))
	for i, u := range order {
		pos[u] = i
	}
	if pos[0] >= pos[1] || pos[1] >= pos[2] || pos[0] >= pos[3] {
		t.Fatalf("topological order violated: %v", order)
	}
}

func TestToposort_DetectsCycle(t *testing.T) {
	g := New(3)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 0)

	if _, err := g.Toposort(); err != ErrCycle {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDescendantCounts_CountsReachableNodes(t *testing.T) {
	g := New(4)
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(0, 3)

	counts, err := g.DescendantCounts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[0] != 3 {
		t.Fatalf("node 0 should reach 3 descendants, got %d", counts[0])
	}
	if counts[1] != 1 {
		t.Fatalf("node 1 should reach 1 descendant, got %d", counts[1])
	}
	if counts[2] != 0 || counts[3] != 0 {
		t.Fatalf("leaf nodes should have 0 descendants, got %d and %d", counts[2], counts[3])
	}
}

func TestParents_IsReverseOfChildren(t *testing.T) {
	g := New(3)
	g.AddEdge(0, 2)
	g.AddEdge(1, 2)

	parents := g.Parents()
	if len(parents[2]) != 2 {
		t.Fatalf("expected node 2 to have 2 parents, got %d", len(parents[2]))
	}
}
