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

// Package graph models a render as a directed acyclic graph of per-document
// operations. Each document expands into a chain of operation nodes; edges
// between chains carry layering parents, substitution sources and schema
// registrations. Rendering evaluates nodes in topological order.
package graph

import (
	"sort"
)

// An Op is one stage of a document's operation chain.
type Op string

// Operations, in chain order.
const (
	OpSource     Op = "source"
	OpStructural Op = "structural"
	OpLayer      Op = "layer"
	OpSubstitute Op = "substitute"
	OpRender     Op = "render"
	OpValidate   Op = "validate"
)

// A Node is one operation applied to one document.
type Node struct {
	Op     Op
	Schema string
	Name   string
}

func (n Node) String() string {
	return string(n.Op) + "/" + n.Schema + "/" + n.Name
}

// A Graph is a directed graph of operation nodes. The zero value is unusable;
// use New.
type Graph struct {
	nodes map[Node]bool
	out   map[Node][]Node
	in    map[Node][]Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: map[Node]bool{},
		out:   map[Node][]Node{},
		in:    map[Node][]Node{},
	}
}

// AddNode adds a node without edges.
func (g *Graph) AddNode(n Node) {
	g.nodes[n] = true
}

// AddEdge adds a directed edge, adding its endpoints as needed. Duplicate
// edges collapse.
func (g *Graph) AddEdge(from, to Node) {
	g.nodes[from] = true
	g.nodes[to] = true
	for _, n := range g.out[from] {
		if n == to {
			return
		}
	}
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(n Node) bool {
	return g.nodes[n]
}

// Nodes returns every node in deterministic order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// Predecessors returns the direct predecessors of a node in deterministic
// order.
func (g *Graph) Predecessors(n Node) []Node {
	out := append([]Node(nil), g.in[n]...)
	sortNodes(out)
	return out
}

// Ancestors returns every node reachable by walking edges backwards from n,
// excluding n itself.
func (g *Graph) Ancestors(n Node) map[Node]bool {
	return g.reach(n, g.in)
}

// Descendants returns every node reachable by walking edges forward from n,
// excluding n itself.
func (g *Graph) Descendants(n Node) map[Node]bool {
	return g.reach(n, g.out)
}

func (g *Graph) reach(start Node, adj map[Node][]Node) map[Node]bool {
	seen := map[Node]bool{}
	stack := append([]Node(nil), adj[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	delete(seen, start)
	return seen
}

// TopologicalSort orders every node so that each appears after all of its
// predecessors. Ties break lexically, so the order is stable across runs. The
// second return is false when the graph has a cycle.
func (g *Graph) TopologicalSort() ([]Node, bool) {
	return g.topo(nil)
}

// SubgraphSort topologically orders the target and its ancestors only.
func (g *Graph) SubgraphSort(target Node) ([]Node, bool) {
	include := g.Ancestors(target)
	include[target] = true
	return g.topo(include)
}

// topo runs Kahn's algorithm over the nodes of include (all nodes when nil),
// visiting ready nodes in lexical order.
func (g *Graph) topo(include map[Node]bool) ([]Node, bool) {
	in := map[Node]int{}
	var pending []Node
	for n := range g.nodes {
		if include != nil && !include[n] {
			continue
		}
		count := 0
		for _, p := range g.in[n] {
			if include == nil || include[p] {
				count++
			}
		}
		in[n] = count
		if count == 0 {
			pending = append(pending, n)
		}
	}
	sortNodes(pending)

	order := make([]Node, 0, len(in))
	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		order = append(order, n)

		var ready []Node
		for _, s := range g.out[n] {
			if include != nil && !include[s] {
				continue
			}
			in[s]--
			if in[s] == 0 {
				ready = append(ready, s)
			}
		}
		if len(ready) > 0 {
			pending = append(pending, ready...)
			sortNodes(pending)
		}
	}
	return order, len(order) == len(in)
}

// Cycles returns the strongly connected components that contain a cycle, each
// in deterministic order. An empty result means the graph is a DAG.
func (g *Graph) Cycles() [][]Node {
	t := &tarjan{
		g:       g,
		index:   map[Node]int{},
		lowlink: map[Node]int{},
		onStack: map[Node]bool{},
	}
	for _, n := range g.Nodes() {
		if _, seen := t.index[n]; !seen {
			t.strongConnect(n)
		}
	}

	var cycles [][]Node
	for _, scc := range t.sccs {
		if len(scc) > 1 || g.selfLoop(scc[0]) {
			sortNodes(scc)
			cycles = append(cycles, scc)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0].String() < cycles[j][0].String() })
	return cycles
}

func (g *Graph) selfLoop(n Node) bool {
	for _, s := range g.out[n] {
		if s == n {
			return true
		}
	}
	return false
}

type tarjan struct {
	g       *Graph
	counter int
	index   map[Node]int
	lowlink map[Node]int
	onStack map[Node]bool
	stack   []Node
	sccs    [][]Node
}

func (t *tarjan) strongConnect(n Node) {
	t.index[n] = t.counter
	t.lowlink[n] = t.counter
	t.counter++
	t.stack = append(t.stack, n)
	t.onStack[n] = true

	succs := append([]Node(nil), t.g.out[n]...)
	sortNodes(succs)
	for _, s := range succs {
		if _, seen := t.index[s]; !seen {
			t.strongConnect(s)
			if t.lowlink[s] < t.lowlink[n] {
				t.lowlink[n] = t.lowlink[s]
			}
		} else if t.onStack[s] && t.index[s] < t.lowlink[n] {
			t.lowlink[n] = t.index[s]
		}
	}

	if t.lowlink[n] == t.index[n] {
		var scc []Node
		for {
			m := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[m] = false
			scc = append(scc, m)
			if m == n {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].String() < nodes[j].String() })
}
