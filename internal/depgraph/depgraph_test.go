package depgraph

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func mapSource(edges map[int][]int) Source {
	return SourceFunc(func(id int) ([]int, error) {
		return edges[id], nil
	})
}

func TestClosureTransitive(t *testing.T) {
	// A depends on B and C, B depends on D.
	edges := map[int][]int{
		1: {2, 3},
		2: {4},
	}
	order, cycles, err := Closure(mapSource(edges), []int{1})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("unexpected cycles: %v", cycles)
	}
	want := []int{4, 2, 3, 1}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestClosureEachCardOnce(t *testing.T) {
	// Diamond: both 2 and 3 depend on 4.
	edges := map[int][]int{
		1: {2, 3},
		2: {4},
		3: {4},
	}
	order, _, err := Closure(mapSource(edges), []int{1})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	seen := make(map[int]int)
	for _, id := range order {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("card %d appears %d times", id, n)
		}
	}
	if len(order) != 4 {
		t.Fatalf("order = %v, want 4 cards", order)
	}
}

func TestClosureDeterministic(t *testing.T) {
	edges := map[int][]int{
		1: {3, 2},
		5: {1},
	}
	a, _, err := Closure(mapSource(edges), []int{5, 1})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	b, _, err := Closure(mapSource(edges), []int{1, 5})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("order depends on root order: %v vs %v", a, b)
	}
}

func TestClosureDependenciesBeforeDependents(t *testing.T) {
	edges := map[int][]int{
		1: {2},
		2: {3},
		3: {4},
	}
	order, _, err := Closure(mapSource(edges), []int{1})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	pos := make(map[int]int)
	for i, id := range order {
		pos[id] = i
	}
	for card, deps := range edges {
		for _, dep := range deps {
			if pos[dep] > pos[card] {
				t.Fatalf("dependency %d ordered after dependent %d: %v", dep, card, order)
			}
		}
	}
}

func TestClosureCycleTerminates(t *testing.T) {
	edges := map[int][]int{
		100: {200},
		200: {300},
		300: {100},
	}
	order, cycles, err := Closure(mapSource(edges), []int{100})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles = %v, want exactly one", cycles)
	}
	got := cycles[0].Error()
	want := "circular dependency: 100 -> 200 -> 300 -> 100"
	if got != want {
		t.Fatalf("cycle = %q, want %q", got, want)
	}
	sorted := make([]int, len(order))
	copy(sorted, order)
	sort.Ints(sorted)
	if !reflect.DeepEqual(sorted, []int{100, 200, 300}) {
		t.Fatalf("order = %v, want the set {100, 200, 300}", order)
	}
}

func TestClosureSelfCycle(t *testing.T) {
	edges := map[int][]int{
		7: {7},
	}
	order, cycles, err := Closure(mapSource(edges), []int{7})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if len(cycles) != 1 || cycles[0].Error() != "circular dependency: 7 -> 7" {
		t.Fatalf("cycles = %v", cycles)
	}
	if !reflect.DeepEqual(order, []int{7}) {
		t.Fatalf("order = %v, want [7]", order)
	}
}

func TestClosureSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := SourceFunc(func(id int) ([]int, error) {
		if id == 2 {
			return nil, boom
		}
		return map[int][]int{1: {2}}[id], nil
	})
	_, _, err := Closure(src, []int{1})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if want := "card 2"; !strings.Contains(err.Error(), want) {
		t.Fatalf("err = %q, want mention of %q", err, want)
	}
}

func TestClosureResolverReuse(t *testing.T) {
	edges := map[int][]int{1: {2}}
	r := NewResolver(mapSource(edges))
	order, _, err := r.Closure([]int{1})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	// Second call adds only new cards.
	order, _, err = r.Closure([]int{3})
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	want := []int{2, 1, 3}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}
