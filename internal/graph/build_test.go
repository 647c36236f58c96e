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
	"testing"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/xerrors"
)

func parseAll(t *testing.T, ys ...string) []document.Document {
	t.Helper()
	docs := make([]document.Document, 0, len(ys))
	for _, y := range ys {
		d, err := document.FromYAML([]byte(y))
		if err != nil {
			t.Fatalf("cannot parse fixture: %v", err)
		}
		docs = append(docs, d)
	}
	return docs
}

const layeringPolicy = `
schema: deckhand/LayeringPolicy/v1
metadata:
  schema: metadata/Control/v1
  name: layering-policy
data:
  layerOrder: [global, site]
`

const globalChart = `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: global-chart
  labels:
    tier: global
  layeringDefinition:
    layer: global
    abstract: true
data:
  values: {}
`

const siteChart = `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: site-chart
  layeringDefinition:
    layer: site
    parentSelector:
      tier: global
    actions:
      - path: .
        method: merge
  substitutions:
    - src:
        schema: deckhand/Passphrase/v1
        name: pw
        path: .
      dest:
        path: .values.password
data: {}
`

const pw = `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: pw
  layeringDefinition:
    layer: site
  storagePolicy: cleartext
data: hunter2
`

const chartSchema = `
schema: deckhand/DataSchema/v1
metadata:
  schema: metadata/Control/v1
  name: example/Chart/v1
data:
  type: object
`

func meta(schema, name string) document.Meta {
	return document.Meta{Schema: schema, Name: name}
}

func TestBuild(t *testing.T) {
	docs := parseAll(t, layeringPolicy, globalChart, siteChart, pw, chartSchema)
	plan, err := Build(docs)
	if err != nil {
		t.Fatalf("Build(...): %v", err)
	}
	g := plan.Graph

	site := meta("example/Chart/v1", "site-chart")
	global := meta("example/Chart/v1", "global-chart")
	policy := meta("deckhand/LayeringPolicy/v1", "layering-policy")
	pwMeta := meta("deckhand/Passphrase/v1", "pw")
	ds := meta("deckhand/DataSchema/v1", "example/Chart/v1")

	edges := [][2]Node{
		// Chain of the layered, substituting document.
		{NodeFor(OpSource, site), NodeFor(OpStructural, site)},
		{NodeFor(OpStructural, site), NodeFor(OpLayer, site)},
		{NodeFor(OpLayer, site), NodeFor(OpSubstitute, site)},
		{NodeFor(OpSubstitute, site), NodeFor(OpRender, site)},
		{NodeFor(OpRender, site), NodeFor(OpValidate, site)},
		// Cross-document dependencies.
		{NodeFor(OpValidate, policy), NodeFor(OpStructural, site)},
		{NodeFor(OpRender, global), NodeFor(OpLayer, site)},
		{NodeFor(OpRender, pwMeta), NodeFor(OpSubstitute, site)},
		{NodeFor(OpRender, ds), NodeFor(OpValidate, site)},
	}
	for _, e := range edges {
		found := false
		for _, p := range g.Predecessors(e[1]) {
			if p == e[0] {
				found = true
			}
		}
		if !found {
			t.Errorf("Build(...): missing edge %s -> %s", e[0], e[1])
		}
	}

	if g.HasNode(NodeFor(OpValidate, global)) {
		t.Error("Build(...): abstract documents must not have validate nodes")
	}
	if g.HasNode(NodeFor(OpLayer, pwMeta)) {
		t.Error("Build(...): documents without layering must not have layer nodes")
	}
	for _, p := range g.Predecessors(NodeFor(OpStructural, policy)) {
		if p == NodeFor(OpValidate, policy) {
			t.Error("Build(...): control documents must not depend on the layering policy")
		}
	}

	if got := plan.Parents[site]; got != global {
		t.Errorf("Build(...): parent of site-chart is %v, want %v", got, global)
	}
	if len(plan.NodeErrors) != 0 {
		t.Errorf("Build(...): unexpected node errors %v", plan.NodeErrors)
	}
	if _, ok := g.TopologicalSort(); !ok {
		t.Error("Build(...): graph should be acyclic")
	}
}

func TestBuildMissingPolicy(t *testing.T) {
	_, err := Build(parseAll(t, globalChart))
	if err == nil || err.Kind != xerrors.KindLayeringPolicyMissing {
		t.Errorf("Build(...): got %v, want layering-policy-missing", err)
	}
}

func TestBuildDuplicateDocument(t *testing.T) {
	_, err := Build(parseAll(t, layeringPolicy, pw, pw))
	if err == nil || err.Kind != xerrors.KindConflict {
		t.Errorf("Build(...): got %v, want conflict", err)
	}
}

func TestBuildMissingParent(t *testing.T) {
	plan, err := Build(parseAll(t, layeringPolicy, siteChart, pw))
	if err != nil {
		t.Fatalf("Build(...): %v", err)
	}

	layer := NodeFor(OpLayer, meta("example/Chart/v1", "site-chart"))
	errs := plan.NodeErrors[layer]
	if len(errs) != 1 || errs[0].Kind != xerrors.KindMissingParent {
		t.Errorf("Build(...): got node errors %v, want one missing-parent on the layer node", errs)
	}
	if !plan.Graph.HasNode(layer) {
		t.Error("Build(...): the blocked layer node must still exist")
	}
}

func TestBuildUndeclaredLayer(t *testing.T) {
	stray := `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: stray
  layeringDefinition:
    layer: nowhere
data: {}
`
	plan, err := Build(parseAll(t, layeringPolicy, stray))
	if err != nil {
		t.Fatalf("Build(...): %v", err)
	}

	structural := NodeFor(OpStructural, meta("example/Chart/v1", "stray"))
	errs := plan.NodeErrors[structural]
	if len(errs) != 1 || errs[0].Kind != xerrors.KindDataInvalid {
		t.Errorf("Build(...): got node errors %v, want one data-invalid for the undeclared layer", errs)
	}
}

func TestBuildSelfSubstitution(t *testing.T) {
	selfSub := `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: self
  layeringDefinition:
    layer: site
  substitutions:
    - src:
        schema: example/Chart/v1
        name: self
        path: .copied
      dest:
        path: .copy
data:
  copied: value
`
	plan, err := Build(parseAll(t, layeringPolicy, selfSub))
	if err != nil {
		t.Fatalf("Build(...): %v", err)
	}
	if got := plan.Graph.Cycles(); len(got) != 0 {
		t.Errorf("Build(...): self-substitution must not create a cycle, got %v", got)
	}
}

func TestBuildSubstitutionCycle(t *testing.T) {
	a := `
schema: example/A/v1
metadata:
  schema: metadata/Document/v1
  name: a
  layeringDefinition:
    layer: site
  substitutions:
    - src: {schema: example/B/v1, name: b, path: .v}
      dest: {path: .v}
data: {}
`
	b := `
schema: example/B/v1
metadata:
  schema: metadata/Document/v1
  name: b
  layeringDefinition:
    layer: site
  substitutions:
    - src: {schema: example/A/v1, name: a, path: .v}
      dest: {path: .v}
data: {}
`
	plan, err := Build(parseAll(t, layeringPolicy, a, b))
	if err != nil {
		t.Fatalf("Build(...): %v", err)
	}
	if got := plan.Graph.Cycles(); len(got) != 1 {
		t.Errorf("Build(...): got %d cycles, want 1", len(got))
	}
}
