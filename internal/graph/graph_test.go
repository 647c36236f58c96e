/*
Copyright 2024 The Deckhand Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package graph

import (
	"strings"
	"testing"
)

func n(s string) Node {
	parts := strings.SplitN(s, "/", 2)
	return Node{Op: Op(parts[0]), Schema: "x/Doc/v1", Name: parts[1]}
}

func chain(g *Graph, names ...string) {
	for i := 0; i+1 < len(names); i++ {
		g.AddEdge(n(names[i]), n(names[i+1]))
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	chain(g, "source/a", "structural/a", "render/a")
	chain(g, "source/b", "structural/b", "layer/b", "render/b")
	g.AddEdge(n("render/a"), n("layer/b"))

	order, ok := g.TopologicalSort()
	if !ok {
		t.Fatal("TopologicalSort(): got cycle, want DAG")
	}
	if len(order) != 7 {
		t.Fatalf("TopologicalSort(): got %d nodes, want 7", len(order))
	}

	pos := map[Node]int{}
	for i, node := range order {
		pos[node] = i
	}
	for _, e := range [][2]string{
		{"source/a", "structural/a"},
		{"structural/a", "render/a"},
		{"render/a", "layer/b"},
		{"structural/b", "layer/b"},
		{"layer/b", "render/b"},
	} {
		if pos[n(e[0])] >= pos[n(e[1])] {
			t.Errorf("TopologicalSort(): %s sorts after %s", e[0], e[1])
		}
	}

	again, _ := g.TopologicalSort()
	for i := range order {
		if order[i] != again[i] {
			t.Fatal("TopologicalSort(): order is not deterministic")
		}
	}
}

func TestSubgraphSort(t *testing.T) {
	g := New()
	chain(g, "source/a", "render/a")
	chain(g, "source/b", "render/b")
	g.AddEdge(n("render/a"), n("render/b"))

	order, ok := g.SubgraphSort(n("render/a"))
	if !ok {
		t.Fatal("SubgraphSort(): got cycle, want DAG")
	}
	if len(order) != 2 {
		t.Errorf("SubgraphSort(): got %d nodes, want only the target and its ancestors", len(order))
	}
	for _, node := range order {
		if node == n("render/b") || node == n("source/b") {
			t.Errorf("SubgraphSort(): unrelated node %s included", node)
		}
	}
}

func TestCycles(t *testing.T) {
	t.Run("None", func(t *testing.T) {
		g := New()
		chain(g, "source/a", "render/a")
		if got := g.Cycles(); len(got) != 0 {
			t.Errorf("Cycles(): got %v, want none", got)
		}
	})

	t.Run("Simple", func(t *testing.T) {
		g := New()
		g.AddEdge(n("render/a"), n("layer/b"))
		g.AddEdge(n("layer/b"), n("render/b"))
		g.AddEdge(n("render/b"), n("layer/a"))
		g.AddEdge(n("layer/a"), n("render/a"))

		cycles := g.Cycles()
		if len(cycles) != 1 {
			t.Fatalf("Cycles(): got %d cycles, want 1", len(cycles))
		}
		if len(cycles[0]) != 4 {
			t.Errorf("Cycles(): got cycle of %d nodes, want 4", len(cycles[0]))
		}

		if _, ok := g.TopologicalSort(); ok {
			t.Error("TopologicalSort(): cyclic graph should not sort")
		}
	})

	t.Run("TwoIndependent", func(t *testing.T) {
		g := New()
		g.AddEdge(n("render/a"), n("render/b"))
		g.AddEdge(n("render/b"), n("render/a"))
		g.AddEdge(n("render/c"), n("render/d"))
		g.AddEdge(n("render/d"), n("render/c"))

		if got := g.Cycles(); len(got) != 2 {
			t.Errorf("Cycles(): got %d cycles, want both reported", len(got))
		}
	})
}

func TestDescendants(t *testing.T) {
	g := New()
	chain(g, "source/a", "structural/a", "render/a")
	g.AddEdge(n("render/a"), n("layer/b"))
	chain(g, "layer/b", "render/b")

	desc := g.Descendants(n("structural/a"))
	for _, want := range []string{"render/a", "layer/b", "render/b"} {
		if !desc[n(want)] {
			t.Errorf("Descendants(): missing %s", want)
		}
	}
	if desc[n("source/a")] {
		t.Error("Descendants(): ancestors must not appear")
	}
	if desc[n("structural/a")] {
		t.Error("Descendants(): the node itself must not appear")
	}
}

func TestDot(t *testing.T) {
	g := New()
	chain(g, "source/a", "render/a")

	var b strings.Builder
	if err := g.Dot(&b); err != nil {
		t.Fatalf("Dot(): %v", err)
	}
	out := b.String()
	for _, want := range []string{"digraph", "source/x/Doc/v1/a", "render/x/Doc/v1/a", "->"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dot(): output missing %q:\n%s", want, out)
		}
	}

	if err := New().Dot(&b); err == nil {
		t.Error("Dot(): want error for empty graph")
	}
}
