// Package depgraph computes the transitive closure of card dependencies so
// a migrated item is self-contained, and orders items for dependency-first
// creation. The graph is discovered lazily during traversal and may contain
// cycles; cycles are reported as warnings and broken, never fatal.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// CircularDependencyError describes one dependency cycle, e.g.
// "100 -> 200 -> 300 -> 100". It is a warning: the resolver breaks the
// offending edge and continues.
type CircularDependencyError struct {
	Cycle []int
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "circular dependency: " + strings.Join(parts, " -> ")
}

// Source supplies the direct dependencies of a card. Edges are discovered
// lazily: the resolver only asks about cards it actually reaches.
type Source interface {
	Dependencies(id int) ([]int, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(id int) ([]int, error)

func (f SourceFunc) Dependencies(id int) ([]int, error) {
	return f(id)
}

// Resolver walks the dependency graph from a root set. It keeps two
// distinct sets: visited (global, guarantees each card is processed at most
// once) and on-path (per traversal, distinguishes a true cycle from a
// forward re-visit).
type Resolver struct {
	src     Source
	visited map[int]bool
	onPath  map[int]bool
	path    []int
	order   []int
	cycles  []*CircularDependencyError
}

// NewResolver returns a resolver over the given dependency source.
func NewResolver(src Source) *Resolver {
	return &Resolver{
		src:     src,
		visited: make(map[int]bool),
		onPath:  make(map[int]bool),
	}
}

// Closure returns the full transitive dependency closure of the root set in
// post-order: every card appears exactly once, dependencies before
// dependents. Roots and adjacency are visited in ascending ID order, so the
// result is deterministic regardless of input order. Detected cycles are
// returned alongside the order.
func (r *Resolver) Closure(roots []int) ([]int, []*CircularDependencyError, error) {
	sorted := make([]int, len(roots))
	copy(sorted, roots)
	sort.Ints(sorted)

	for _, id := range sorted {
		if err := r.visit(id); err != nil {
			return nil, nil, err
		}
	}
	return r.order, r.cycles, nil
}

func (r *Resolver) visit(id int) error {
	if r.onPath[id] {
		// True cycle: the edge back into the current path is recorded and
		// broken.
		r.cycles = append(r.cycles, &CircularDependencyError{Cycle: r.cyclePath(id)})
		return nil
	}
	if r.visited[id] {
		return nil
	}
	r.visited[id] = true
	r.onPath[id] = true
	r.path = append(r.path, id)

	deps, err := r.src.Dependencies(id)
	if err != nil {
		r.pop(id)
		return fmt.Errorf("failed to resolve dependencies of card %d: %w", id, err)
	}
	sorted := make([]int, len(deps))
	copy(sorted, deps)
	sort.Ints(sorted)
	for _, dep := range sorted {
		if err := r.visit(dep); err != nil {
			r.pop(id)
			return err
		}
	}

	r.pop(id)
	r.order = append(r.order, id)
	return nil
}

func (r *Resolver) pop(id int) {
	delete(r.onPath, id)
	r.path = r.path[:len(r.path)-1]
}

// cyclePath extracts the cycle from the current path, closing it with the
// revisited ID.
func (r *Resolver) cyclePath(id int) []int {
	start := 0
	for i, v := range r.path {
		if v == id {
			start = i
			break
		}
	}
	cycle := make([]int, 0, len(r.path)-start+1)
	cycle = append(cycle, r.path[start:]...)
	cycle = append(cycle, id)
	return cycle
}

// Closure is a convenience wrapper for a one-shot resolution.
func Closure(src Source, roots []int) ([]int, []*CircularDependencyError, error) {
	return NewResolver(src).Closure(roots)
}
