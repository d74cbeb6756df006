// Package scheduler executes a module tree's documentation jobs in
// dependency order: every child module must finish before its parent
// (the parent's overview prompt inlines the children's docs, §4.3), with
// bounded concurrency across independent subtrees. It is an
// event-driven worker loop in the same shape as the teacher's
// internal/scheduler/HeavierStartScheduler.go, simplified from weighted
// chunk-packing to one-node-per-job since module doc generation jobs
// are not batched.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"docforge/internal/dag"
	"docforge/internal/moduletree"
)

// EventKind tags a progress event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventSkipped   EventKind = "skipped" // already done on resume
)

// Event is emitted once per module transition, matching spec.md §7's
// progress record shape.
type Event struct {
	Index      int
	Total      int
	Kind       EventKind
	ModulePath []string
	ModuleName string
	ElapsedMS  int64
	Err        error
}

// RunFunc generates documentation for one module. It must be safe to
// call concurrently with other RunFunc invocations for unrelated
// modules, but the scheduler guarantees it is never called for a
// module before every direct child's RunFunc has returned nil.
type RunFunc func(ctx context.Context, path []string, m *moduletree.Module) error

// Params configures a scheduling run.
type Params struct {
	Tree        *moduletree.Tree
	Concurrency int
	Run         RunFunc
	OnEvent     func(Event)
}

// Run walks Tree, builds the child-before-parent dependency graph, and
// executes Run for every module not already moduletree.StatusDone,
// honoring Concurrency as the max number of modules in flight at
// once. It mutates Tree's DocStatus field only from the single
// goroutine driving the main loop (never from worker goroutines),
// preserving the single-writer rule for the in-memory tree.
func Run(ctx context.Context, p Params) error {
	if p.Run == nil {
		return fmt.Errorf("scheduler: Run callback is nil")
	}
	if p.Tree == nil {
		return fmt.Errorf("scheduler: Tree is nil")
	}
	conc := p.Concurrency
	if conc <= 0 {
		conc = 1
	}

	nodes, paths, indexOf, err := indexTree(p.Tree)
	if err != nil {
		return err
	}
	n := len(nodes)
	if n == 0 {
		return nil
	}

	g := dag.New(n)
	for i, m := range nodes {
		if m.Children == nil {
			continue
		}
		for _, childName := range m.Children.Names() {
			child := m.Children.Get(childName)
			if child == nil {
				continue
			}
			childPath := append(append([]string{}, paths[i]...), childName)
			if ci, ok := indexOf[key(childPath)]; ok {
				g.AddEdge(ci, i) // child must finish before parent
			}
		}
	}

	indeg := g.Indegrees()
	remaining := make([]int, n)
	copy(remaining, indeg)

	var mu sync.Mutex // guards the ready queue and remaining counters
	ready := make([]int, 0, n)
	done := make([]bool, n)
	total := 0
	for i, m := range nodes {
		if m.DocStatus == moduletree.StatusDone {
			done[i] = true
			emit(p.OnEvent, Event{Kind: EventSkipped, ModulePath: paths[i], ModuleName: m.Name})
			continue
		}
		total++
	}
	if total == 0 {
		return nil
	}
	for i := range nodes {
		if done[i] {
			continue
		}
		if remaining[i] == 0 {
			ready = append(ready, i)
		}
	}

	// blocked marks a module that can never run because some descendant
	// of it already failed (I2/P2: a parent must never reach StatusDone
	// while a child isn't). Once set it is permanent for the run.
	blocked := make([]bool, n)

	sem := semaphore.NewWeighted(int64(conc))
	resultCh := make(chan result, n)
	inflight := 0
	completedCount := 0

	launch := func() error {
		mu.Lock()
		defer mu.Unlock()
		for len(ready) > 0 {
			i := ready[0]
			ready = ready[1:]
			if blocked[i] || done[i] {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			inflight++
			go func(i int) {
				defer sem.Release(1)
				start := time.Now()
				emit(p.OnEvent, Event{Total: total, Kind: EventStarted, ModulePath: paths[i], ModuleName: nodes[i].Name})
				runErr := p.Run(ctx, paths[i], nodes[i])
				resultCh <- result{idx: i, err: runErr, elapsed: time.Since(start)}
			}(i)
		}
		return nil
	}

	if err := launch(); err != nil {
		return err
	}

	for completedCount < total {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-resultCh:
			inflight--
			completedCount++
			idx := r.idx
			m := nodes[idx]
			if r.err != nil {
				m.DocStatus = moduletree.StatusFailed
				emit(p.OnEvent, Event{Index: completedCount, Total: total, Kind: EventFailed, ModulePath: paths[idx], ModuleName: m.Name, ElapsedMS: r.elapsed.Milliseconds(), Err: r.err})
			} else {
				m.DocStatus = moduletree.StatusDone
				emit(p.OnEvent, Event{Index: completedCount, Total: total, Kind: EventSucceeded, ModulePath: paths[idx], ModuleName: m.Name, ElapsedMS: r.elapsed.Milliseconds()})
			}
			done[idx] = true

			mu.Lock()
			if r.err != nil {
				completedCount += blockAncestors(g, idx, nodes, paths, done, blocked, p.OnEvent, completedCount, total)
			} else {
				for _, parentIdx := range g.Children(idx) {
					if blocked[parentIdx] || done[parentIdx] {
						continue
					}
					remaining[parentIdx]--
					if remaining[parentIdx] == 0 {
						ready = append(ready, parentIdx)
					}
				}
			}
			mu.Unlock()

			if err := launch(); err != nil {
				return err
			}
		}
	}
	return nil
}

// blockAncestors marks every still-pending ancestor of a just-failed
// module idx as StatusFailed, transitively, without ever dispatching
// them — a parent whose child failed must never become ready. Each
// newly blocked ancestor is reported via its own EventFailed (indexed
// right after startIndex) and counted so the caller's completedCount
// stays in sync with total; nothing else will ever resolve it.
func blockAncestors(g *dag.Graph, idx int, nodes []*moduletree.Module, paths [][]string, done, blocked []bool, onEvent func(Event), startIndex, total int) int {
	blocked[idx] = true
	count := 0
	queue := []int{idx}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, parentIdx := range g.Children(cur) {
			if done[parentIdx] || blocked[parentIdx] {
				continue
			}
			blocked[parentIdx] = true
			done[parentIdx] = true
			count++
			m := nodes[parentIdx]
			m.DocStatus = moduletree.StatusFailed
			emit(onEvent, Event{
				Index:      startIndex + count,
				Total:      total,
				Kind:       EventFailed,
				ModulePath: paths[parentIdx],
				ModuleName: m.Name,
				Err:        fmt.Errorf("scheduler: blocked: descendant module failed"),
			})
			queue = append(queue, parentIdx)
		}
	}
	return count
}

type result struct {
	idx     int
	err     error
	elapsed time.Duration
}

func emit(fn func(Event), ev Event) {
	if fn != nil {
		fn(ev)
	}
}

// indexTree flattens Tree into a pre-order node list plus per-node
// paths, and a lookup from path key to index.
func indexTree(t *moduletree.Tree) ([]*moduletree.Module, [][]string, map[string]int, error) {
	var nodes []*moduletree.Module
	var paths [][]string
	indexOf := map[string]int{}
	err := t.Walk(func(path []string, m *moduletree.Module) error {
		indexOf[key(path)] = len(nodes)
		nodes = append(nodes, m)
		paths = append(paths, append([]string{}, path...))
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return nodes, paths, indexOf, nil
}

func key(path []string) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += "/"
		}
		s += p
	}
	return s
}
