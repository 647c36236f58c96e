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
	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/layering"
	"github.com/airshipit/deckhand/internal/xerrors"
)

// A Plan is the operation graph for one document set, plus everything the
// build pass resolved along the way: the layering policy, each document's
// parent, and the problems found for individual documents.
type Plan struct {
	Graph  *Graph
	Policy layering.Policy

	// Parents maps a layered document to its resolved parent.
	Parents map[document.Meta]document.Meta

	// NodeErrors holds per-document build problems, keyed by the node
	// whose evaluation they block (e.g. an unresolvable parent blocks the
	// document's layer node).
	NodeErrors map[Node][]*xerrors.Error
}

// NodeFor returns the node for an operation on a document.
func NodeFor(op Op, meta document.Meta) Node {
	return Node{Op: op, Schema: meta.Schema, Name: meta.Name}
}

// Build expands a document set into its operation graph. Every document
// contributes a source, structural and render node; layered documents a layer
// node fed by the parent's render; substituting documents a substitute node
// fed by each source's render; concrete documents a validate node fed by the
// render of the DataSchema registering their kind, when one is present.
//
// A missing, duplicated or malformed LayeringPolicy fails the build outright.
// Per-document problems (unresolvable parents, layers the policy does not
// declare) do not: they are recorded against the blocked node so one bad
// document cannot hide the rest.
func Build(docs []document.Document) (*Plan, *xerrors.Error) {
	var policyDoc document.Document
	policyFound := false
	byMeta := make(map[document.Meta]document.Document, len(docs))

	for _, d := range docs {
		meta := d.Meta()
		if _, dup := byMeta[meta]; dup {
			return nil, xerrors.New(xerrors.KindConflict, meta.Schema, meta.Name, "duplicate document")
		}
		byMeta[meta] = d

		if d.Kind() == document.SchemaLayeringPolicy {
			if policyFound {
				return nil, xerrors.New(xerrors.KindConflict, meta.Schema, meta.Name, "multiple LayeringPolicy documents")
			}
			policyDoc, policyFound = d, true
		}
	}
	if !policyFound {
		return nil, xerrors.New(xerrors.KindLayeringPolicyMissing, "", "", "document set has no LayeringPolicy")
	}

	policy, perr := layering.NewPolicy(policyDoc)
	if perr != nil {
		return nil, perr
	}

	// DataSchema documents register the kind named by their metadata.name.
	dataSchemas := map[string]document.Meta{}
	for _, d := range docs {
		if d.Kind() == document.SchemaDataSchema {
			dataSchemas[document.KindOf(d.Name())] = d.Meta()
		}
	}

	plan := &Plan{
		Graph:      New(),
		Policy:     policy,
		Parents:    map[document.Meta]document.Meta{},
		NodeErrors: map[Node][]*xerrors.Error{},
	}
	g := plan.Graph
	policyValidate := NodeFor(OpValidate, policyDoc.Meta())

	for _, d := range docs {
		meta := d.Meta()

		structural := NodeFor(OpStructural, meta)
		g.AddEdge(NodeFor(OpSource, meta), structural)
		if !d.IsControl() {
			g.AddEdge(policyValidate, structural)

			// Every ordinary document must sit in a declared layer,
			// whether or not it layers onto a parent. An absent layer is
			// the structural validator's problem, not ours.
			if layer := d.Layer(); layer != "" && !policy.Contains(layer) {
				plan.NodeErrors[structural] = append(plan.NodeErrors[structural],
					xerrors.New(xerrors.KindDataInvalid, meta.Schema, meta.Name, "layer %q is not declared in the layering policy", layer))
			}
		}
		prev := structural

		if d.HasLayering() {
			layer := NodeFor(OpLayer, meta)
			g.AddEdge(prev, layer)
			prev = layer

			parent, rerr := layering.ResolveParent(d, policy, docs)
			if rerr != nil {
				g.AddNode(layer)
				plan.NodeErrors[layer] = append(plan.NodeErrors[layer], rerr)
			} else {
				plan.Parents[meta] = parent.Meta()
				g.AddEdge(NodeFor(OpRender, parent.Meta()), layer)
			}
		}

		if subs := d.Substitutions(); len(subs) > 0 {
			sub := NodeFor(OpSubstitute, meta)
			g.AddEdge(prev, sub)
			prev = sub

			for _, s := range subs {
				srcMeta := document.Meta{Schema: s.Src.Schema, Name: s.Src.Name}
				if srcMeta == meta {
					// Self-references read the document's own
					// layered data; no edge needed.
					continue
				}
				if _, ok := byMeta[srcMeta]; ok {
					g.AddEdge(NodeFor(OpRender, srcMeta), sub)
				}
				// Absent sources are left to substitution policy:
				// strict renders fail, lenient ones skip.
			}
		}

		render := NodeFor(OpRender, meta)
		g.AddEdge(prev, render)

		if !d.Abstract() {
			validate := NodeFor(OpValidate, meta)
			g.AddEdge(render, validate)
			if dsMeta, ok := dataSchemas[document.KindOf(meta.Schema)]; ok && dsMeta != meta {
				g.AddEdge(NodeFor(OpRender, dsMeta), validate)
			}
		}
	}
	return plan, nil
}
