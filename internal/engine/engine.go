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

// Package engine renders document sets. A render expands the documents into
// an operation graph, rejects cycles, then evaluates the graph in
// deterministic topological order: structural validation, layering,
// substitution and data validation per document. Errors accumulate across
// independent documents; an error in one chain blocks only its descendants.
package engine

import (
	"context"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/graph"
	"github.com/airshipit/deckhand/internal/layering"
	"github.com/airshipit/deckhand/internal/schema"
	"github.com/airshipit/deckhand/internal/secrets"
	"github.com/airshipit/deckhand/internal/substitution"
	"github.com/airshipit/deckhand/internal/validation"
	"github.com/airshipit/deckhand/internal/xerrors"
)

const errRenderCancelled = "render cancelled"

// An Engine renders document sets against a shared schema registry and
// secret store. Engines are safe for concurrent use; every render gets its
// own schema session and workspace.
type Engine struct {
	registry *schema.Registry
	store    secrets.Store
	log      logging.Logger

	strictKinds    bool
	lenientSources bool

	validator *validation.Validator
	sub       *substitution.Substitutor
}

// An Option configures an Engine.
type Option func(*Engine)

// WithLogger configures how an Engine logs.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// StrictKinds makes data validation fail for kinds without a registered
// schema.
func StrictKinds() Option {
	return func(e *Engine) { e.strictKinds = true }
}

// LenientSources makes missing substitution sources skip the substitution
// instead of failing the render.
func LenientSources() Option {
	return func(e *Engine) { e.lenientSources = true }
}

// New returns an Engine.
func New(registry *schema.Registry, store secrets.Store, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		log:      logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}

	vopts := []validation.Option{validation.WithLogger(e.log)}
	if e.strictKinds {
		vopts = append(vopts, validation.Strict())
	}
	e.validator = validation.New(vopts...)

	sopts := []substitution.Option{substitution.WithLogger(e.log)}
	if e.lenientSources {
		sopts = append(sopts, substitution.LenientSources())
	}
	e.sub = substitution.New(store, sopts...)
	return e
}

// Validate structurally validates a document set without rendering it, the
// check a bucket write runs before documents are persisted. All problems are
// returned together as an *xerrors.List.
func (e *Engine) Validate(docs []document.Document) error {
	list := &xerrors.List{}
	session := e.registry.NewSession()
	for _, d := range docs {
		if err := e.validator.Structural(session, d); err != nil {
			list.Append(err)
		}
	}
	if list.Empty() {
		return nil
	}
	e.sanitize(list, docs)
	return list
}

// Render renders a document set and returns the rendered concrete,
// non-control documents in input order. All problems found in the pass are
// returned together as an *xerrors.List.
func (e *Engine) Render(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	list := &xerrors.List{}

	plan, berr := graph.Build(docs)
	if berr != nil {
		list.Append(berr)
		return nil, list
	}

	for _, cycle := range plan.Graph.Cycles() {
		first := cycle[0]
		list.Append(xerrors.New(xerrors.KindCycleDetected, first.Schema, first.Name, "dependency cycle through %v", cycle))
	}
	if !list.Empty() {
		e.sanitize(list, docs)
		return nil, list
	}

	session := e.registry.NewSession()
	workspace := make(map[document.Meta]document.Document, len(docs))
	for _, d := range docs {
		workspace[d.Meta()] = d
	}

	order, _ := plan.Graph.TopologicalSort()
	blocked := map[graph.Node]bool{}

	for _, node := range order {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errRenderCancelled)
		}
		if blocked[node] {
			continue
		}
		if errs := e.evaluate(ctx, node, plan, session, workspace); len(errs) > 0 {
			list.Append(errs...)
			for d := range plan.Graph.Descendants(node) {
				blocked[d] = true
			}
		}
	}

	if !list.Empty() {
		e.sanitize(list, docs)
		return nil, list
	}

	rendered := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		if d.Abstract() || d.IsControl() {
			continue
		}
		rendered = append(rendered, workspace[d.Meta()])
	}
	return rendered, nil
}

// evaluate executes one operation node against the workspace, updating the
// workspace in place.
func (e *Engine) evaluate(ctx context.Context, node graph.Node, plan *graph.Plan, session *schema.Session, workspace map[document.Meta]document.Document) []*xerrors.Error {
	meta := document.Meta{Schema: node.Schema, Name: node.Name}
	d, ok := workspace[meta]
	if !ok {
		// Unreachable for well-formed plans.
		return []*xerrors.Error{xerrors.New(xerrors.KindConflict, meta.Schema, meta.Name, "no workspace entry for %s", node)}
	}

	// Problems the build pass pinned on this node surface here, blocking the
	// node's descendants like any evaluation failure.
	if errs := plan.NodeErrors[node]; len(errs) > 0 {
		return errs
	}

	switch node.Op {
	case graph.OpSource:
		return nil

	case graph.OpStructural:
		if err := e.validator.Structural(session, d); err != nil {
			return []*xerrors.Error{err}
		}
		return nil

	case graph.OpLayer:
		parentMeta, ok := plan.Parents[meta]
		if !ok {
			return []*xerrors.Error{xerrors.New(xerrors.KindMissingParent, meta.Schema, meta.Name, "no resolved parent")}
		}
		layered, lerr := layering.Apply(d, workspace[parentMeta])
		if lerr != nil {
			return []*xerrors.Error{lerr}
		}
		workspace[meta] = layered
		e.log.Debug("Layered document", "document", meta.String(), "parent", parentMeta.String())
		return nil

	case graph.OpSubstitute:
		substituted, serr := e.sub.Apply(ctx, d, func(m document.Meta) (document.Document, bool) {
			src, ok := workspace[m]
			return src, ok
		})
		if serr != nil {
			return []*xerrors.Error{serr}
		}
		workspace[meta] = substituted
		e.log.Debug("Substituted document", "document", meta.String())
		return nil

	case graph.OpRender:
		// The document's data is final. DataSchema documents register
		// their schema for the validate nodes that depend on this one.
		if d.Kind() == document.SchemaDataSchema {
			if err := session.Register(workspace[meta]); err != nil {
				return []*xerrors.Error{xerrors.New(xerrors.KindDataInvalid, meta.Schema, meta.Name, "cannot register data schema: %v", err)}
			}
			e.log.Debug("Registered data schema", "kind", d.Name())
		}
		return nil

	case graph.OpValidate:
		if err := e.validator.Data(session, workspace[meta]); err != nil {
			return []*xerrors.Error{err}
		}
		return nil
	}
	return nil
}

// sanitize scrubs secret material from accumulated errors. An error is
// sensitive when its document is encrypted or consumes an encrypted source.
func (e *Engine) sanitize(list *xerrors.List, docs []document.Document) {
	byMeta := make(map[document.Meta]document.Document, len(docs))
	for _, d := range docs {
		byMeta[d.Meta()] = d
	}

	for _, err := range list.Errors() {
		d, ok := byMeta[document.Meta{Schema: err.Schema, Name: err.Name}]
		if !ok {
			xerrors.Sanitize(err, false, secrets.IsReference)
			continue
		}
		sensitive := d.IsEncrypted()
		if !sensitive {
			for _, sub := range d.Substitutions() {
				src, ok := byMeta[document.Meta{Schema: sub.Src.Schema, Name: sub.Src.Name}]
				if ok && src.IsEncrypted() {
					sensitive = true
					break
				}
			}
		}
		xerrors.Sanitize(err, sensitive, secrets.IsReference)
	}
}
