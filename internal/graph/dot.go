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
	"io"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"
)

const errEmptyGraph = "graph is empty"

// opColors shade nodes by operation so chains read at a glance.
var opColors = map[Op]string{
	OpSource:     "gray",
	OpStructural: "lightblue",
	OpLayer:      "orange",
	OpSubstitute: "gold",
	OpRender:     "palegreen",
	OpValidate:   "plum",
}

// Dot writes the graph in Graphviz dot format.
func (g *Graph) Dot(w io.Writer) error {
	if len(g.nodes) == 0 {
		return errors.New(errEmptyGraph)
	}

	dg := dot.NewGraph(dot.Directed)
	dg.Attr("rankdir", "LR")

	nodes := map[Node]dot.Node{}
	for _, n := range g.Nodes() {
		dn := dg.Node(n.String())
		dn.Attr("shape", "box")
		if c, ok := opColors[n.Op]; ok {
			dn.Attr("style", "filled")
			dn.Attr("fillcolor", c)
		}
		nodes[n] = dn
	}
	for _, from := range g.Nodes() {
		for _, to := range g.Predecessors(from) {
			dg.Edge(nodes[to], nodes[from])
		}
	}

	dg.Write(w)
	return nil
}
