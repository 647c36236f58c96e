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

package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/schema"
	"github.com/airshipit/deckhand/internal/secrets/fake"
	"github.com/airshipit/deckhand/internal/xerrors"
)

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("cannot build registry: %v", err)
	}
	return r
}

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

func find(docs []document.Document, name string) (document.Document, bool) {
	for _, d := range docs {
		if d.Name() == name {
			return d, true
		}
	}
	return document.Document{}, false
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
  chart:
    name: mariadb
    values:
      replicas: 3
      password: REPLACEME
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
        name: db-password
        path: .
      dest:
        path: .chart.values.password
data:
  chart:
    values:
      replicas: 5
`

const passphrase = `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: db-password
  layeringDefinition:
    layer: site
  storagePolicy: cleartext
data: hunter2
`

func TestRender(t *testing.T) {
	e := New(registry(t), fake.NewMemStore())

	rendered, err := e.Render(context.Background(), parseAll(t, layeringPolicy, globalChart, siteChart, passphrase))
	if err != nil {
		t.Fatalf("Render(...): %v", err)
	}

	if _, ok := find(rendered, "global-chart"); ok {
		t.Error("Render(...): abstract documents must not be returned")
	}
	if _, ok := find(rendered, "layering-policy"); ok {
		t.Error("Render(...): control documents must not be returned")
	}

	site, ok := find(rendered, "site-chart")
	if !ok {
		t.Fatal("Render(...): site-chart missing from output")
	}
	want := map[string]any{
		"chart": map[string]any{
			"name": "mariadb",
			"values": map[string]any{
				"replicas": float64(5),
				"password": "hunter2",
			},
		},
	}
	if diff := cmp.Diff(want, site.Data()); diff != "" {
		t.Errorf("Render(...): -want, +got:\n%s", diff)
	}
}

func TestRenderDeterministic(t *testing.T) {
	e := New(registry(t), fake.NewMemStore())
	docs := parseAll(t, layeringPolicy, globalChart, siteChart, passphrase)

	a, err := e.Render(context.Background(), docs)
	if err != nil {
		t.Fatalf("Render(...): %v", err)
	}
	b, err := e.Render(context.Background(), docs)
	if err != nil {
		t.Fatalf("Render(...): %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("Render(...): runs disagree on output size: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Errorf("Render(...): output %d differs between runs", i)
		}
	}
}

func TestRenderMissingPolicy(t *testing.T) {
	e := New(registry(t), fake.NewMemStore())

	_, err := e.Render(context.Background(), parseAll(t, passphrase))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	if errs := list.Errors(); len(errs) != 1 || errs[0].Kind != xerrors.KindLayeringPolicyMissing {
		t.Errorf("Render(...): got %v, want layering-policy-missing", errs)
	}
}

func TestRenderCycle(t *testing.T) {
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
data: {v: 1}
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
data: {v: 2}
`
	e := New(registry(t), fake.NewMemStore())
	_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, a, b))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	if errs := list.Errors(); len(errs) != 1 || errs[0].Kind != xerrors.KindCycleDetected {
		t.Errorf("Render(...): got %v, want one cycle-detected", errs)
	}
}

func TestRenderAccumulatesAndBlocks(t *testing.T) {
	// site-chart's parent is missing, which blocks its chain; the
	// passphrase chain is independent and still evaluates. The missing
	// parent is reported once, with no follow-on noise from the blocked
	// substitute, render and validate nodes.
	e := New(registry(t), fake.NewMemStore())
	_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, siteChart, passphrase))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	errs := list.Errors()
	if len(errs) != 1 {
		t.Fatalf("Render(...): got %d errors (%v), want 1", len(errs), errs)
	}
	if errs[0].Kind != xerrors.KindMissingParent || errs[0].Name != "site-chart" {
		t.Errorf("Render(...): got %v, want missing-parent on site-chart", errs[0])
	}
}

func TestRenderUndeclaredLayer(t *testing.T) {
	// The layer check covers documents that never layer onto a parent; a
	// stray layer must fail the document even without a parentSelector.
	stray := `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: stray
  layeringDefinition:
    layer: nowhere
data: {}
`
	e := New(registry(t), fake.NewMemStore())
	_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, stray))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	errs := list.Errors()
	if len(errs) != 1 || errs[0].Kind != xerrors.KindDataInvalid || errs[0].Name != "stray" {
		t.Errorf("Render(...): got %v, want one data-invalid on stray for its undeclared layer", errs)
	}
}

func TestRenderDataSchemaRegistration(t *testing.T) {
	ds := `
schema: deckhand/DataSchema/v1
metadata:
  schema: metadata/Control/v1
  name: example/Node/v1
data:
  type: object
  required: [ip]
`
	node := `
schema: example/Node/v1
metadata:
  schema: metadata/Document/v1
  name: node-1
  layeringDefinition:
    layer: site
data: {}
`
	e := New(registry(t), fake.NewMemStore())
	_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, ds, node))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	errs := list.Errors()
	if len(errs) != 1 || errs[0].Kind != xerrors.KindDataInvalid || errs[0].Name != "node-1" {
		t.Errorf("Render(...): got %v, want data-invalid on node-1 from the registered schema", errs)
	}
}

func TestRenderStrictKinds(t *testing.T) {
	doc := `
schema: mystery/Kind/v1
metadata:
  schema: metadata/Document/v1
  name: m
  layeringDefinition:
    layer: site
data: {}
`
	t.Run("Default", func(t *testing.T) {
		e := New(registry(t), fake.NewMemStore())
		if _, err := e.Render(context.Background(), parseAll(t, layeringPolicy, doc)); err != nil {
			t.Errorf("Render(...): %v", err)
		}
	})

	t.Run("Strict", func(t *testing.T) {
		e := New(registry(t), fake.NewMemStore(), StrictKinds())
		_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, doc))
		list, ok := err.(*xerrors.List)
		if !ok {
			t.Fatalf("Render(...): got %T, want *xerrors.List", err)
		}
		if errs := list.Errors(); len(errs) != 1 || errs[0].Kind != xerrors.KindUnknownKind {
			t.Errorf("Render(...): got %v, want unknown-kind", errs)
		}
	})
}

func TestRenderLenientSources(t *testing.T) {
	orphan := `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: orphan
  layeringDefinition:
    layer: site
  substitutions:
    - src: {schema: deckhand/Passphrase/v1, name: nope, path: .}
      dest: {path: .password}
data: {}
`
	t.Run("Strict", func(t *testing.T) {
		e := New(registry(t), fake.NewMemStore())
		_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, orphan))
		list, ok := err.(*xerrors.List)
		if !ok {
			t.Fatalf("Render(...): got %T, want *xerrors.List", err)
		}
		if errs := list.Errors(); len(errs) != 1 || errs[0].Kind != xerrors.KindSubstitutionSourceMissing {
			t.Errorf("Render(...): got %v, want substitution-source-not-found", errs)
		}
	})

	t.Run("Lenient", func(t *testing.T) {
		e := New(registry(t), fake.NewMemStore(), LenientSources())
		rendered, err := e.Render(context.Background(), parseAll(t, layeringPolicy, orphan))
		if err != nil {
			t.Fatalf("Render(...): %v", err)
		}
		if len(rendered) != 1 {
			t.Errorf("Render(...): got %d documents, want 1", len(rendered))
		}
	})
}

func TestRenderSelfSubstitution(t *testing.T) {
	self := `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: self
  layeringDefinition:
    layer: site
  substitutions:
    - src: {schema: example/Chart/v1, name: self, path: .original}
      dest: {path: .copy}
data:
  original: value
`
	e := New(registry(t), fake.NewMemStore())
	rendered, err := e.Render(context.Background(), parseAll(t, layeringPolicy, self))
	if err != nil {
		t.Fatalf("Render(...): %v", err)
	}
	d, _ := find(rendered, "self")
	if got := d.DataMap()["copy"]; got != "value" {
		t.Errorf("Render(...): got copy %v, want self-substituted value", got)
	}
}

func TestRenderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(registry(t), fake.NewMemStore())
	_, err := e.Render(ctx, parseAll(t, layeringPolicy, globalChart, siteChart, passphrase))
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("Render(...): got %v, want cancellation error", err)
	}
}

func TestRenderSanitizesSecretErrors(t *testing.T) {
	store := fake.NewMemStore()
	ref, _ := store.Create(context.Background(), "pw", "passphrase", "hunter2")

	// A DataSchema forces the encrypted passphrase to fail validation;
	// the failure message must not echo the stored reference back.
	encrypted := `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: pw
  layeringDefinition:
    layer: site
  storagePolicy: encrypted
data: ` + ref + `
`
	ds := `
schema: deckhand/DataSchema/v1
metadata:
  schema: metadata/Control/v1
  name: deckhand/Passphrase/v1
data:
  type: integer
`
	e := New(registry(t), store)
	_, err := e.Render(context.Background(), parseAll(t, layeringPolicy, encrypted, ds))
	list, ok := err.(*xerrors.List)
	if !ok {
		t.Fatalf("Render(...): got %T, want *xerrors.List", err)
	}
	for _, re := range list.Errors() {
		if strings.Contains(re.Message, ref) {
			t.Errorf("Render(...): error message leaks the secret reference: %s", re.Message)
		}
	}
}
