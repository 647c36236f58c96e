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

// Package layering implements document layering: the layer order policy,
// parent resolution via label selectors, and the ordered application of
// merge, replace and delete actions onto a parent's rendered data.
package layering

import (
	"encoding/json"

	"dario.cat/mergo"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/dpath"
	"github.com/airshipit/deckhand/internal/xerrors"
)

// Action methods.
const (
	MethodMerge   = "merge"
	MethodReplace = "replace"
	MethodDelete  = "delete"
)

// A Policy is the layer order declared by a revision's LayeringPolicy: index
// 0 is the base layer, later layers refine earlier ones. A document's parent
// lives one step toward the base.
type Policy struct {
	order []string
	index map[string]int
}

// NewPolicy decodes a LayeringPolicy document.
func NewPolicy(d document.Document) (Policy, *xerrors.Error) {
	meta := d.Meta()
	raw, _ := d.DataMap()["layerOrder"].([]any)
	if len(raw) == 0 {
		return Policy{}, xerrors.New(xerrors.KindLayeringPolicyMalformed, meta.Schema, meta.Name, "layerOrder must be a non-empty list of layer names")
	}

	p := Policy{index: make(map[string]int, len(raw))}
	for _, e := range raw {
		layer, ok := e.(string)
		if !ok {
			return Policy{}, xerrors.New(xerrors.KindLayeringPolicyMalformed, meta.Schema, meta.Name, "layerOrder entries must be strings, got %v", e)
		}
		if _, dup := p.index[layer]; dup {
			return Policy{}, xerrors.New(xerrors.KindLayeringPolicyMalformed, meta.Schema, meta.Name, "duplicate layer %q", layer)
		}
		p.index[layer] = len(p.order)
		p.order = append(p.order, layer)
	}
	return p, nil
}

// Order returns the declared layers, base first.
func (p Policy) Order() []string {
	return p.order
}

// Contains reports whether the layer is declared.
func (p Policy) Contains(layer string) bool {
	_, ok := p.index[layer]
	return ok
}

// ParentLayer returns the layer a document in the supplied layer selects its
// parent from. The base layer, and layers the policy does not declare, have
// none.
func (p Policy) ParentLayer(layer string) (string, bool) {
	i, ok := p.index[layer]
	if !ok || i == 0 {
		return "", false
	}
	return p.order[i-1], true
}

// ResolveParent finds the unique parent of a layered child among the
// candidate documents: the candidates in the child's parent layer that share
// the child's schema and whose labels match the child's parent selector.
// Documents of different schemas never layer onto each other. Zero matches is
// a missing-parent error, more than one an indeterminate-parent error.
func ResolveParent(child document.Document, p Policy, candidates []document.Document) (document.Document, *xerrors.Error) {
	meta := child.Meta()
	def, ok := child.LayeringDefinition()
	if !ok || len(def.ParentSelector) == 0 {
		return document.Document{}, xerrors.New(xerrors.KindMissingParent, meta.Schema, meta.Name, "document declares no parent selector")
	}
	if !p.Contains(def.Layer) {
		return document.Document{}, xerrors.New(xerrors.KindMissingParent, meta.Schema, meta.Name, "layer %q is not in the layer order", def.Layer)
	}
	parentLayer, ok := p.ParentLayer(def.Layer)
	if !ok {
		return document.Document{}, xerrors.New(xerrors.KindMissingParent, meta.Schema, meta.Name, "layer %q is the base layer and has no parents", def.Layer)
	}

	var matches []document.Document
	for _, c := range candidates {
		if c.Layer() != parentLayer {
			continue
		}
		if c.Meta().Schema != meta.Schema {
			continue
		}
		if c.Meta() == meta {
			continue
		}
		if c.MatchesLabels(def.ParentSelector) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return document.Document{}, xerrors.New(xerrors.KindMissingParent, meta.Schema, meta.Name, "no document in layer %q matches the parent selector", parentLayer)
	case 1:
		return matches[0], nil
	default:
		a, b := matches[0].Meta(), matches[1].Meta()
		return document.Document{}, xerrors.New(xerrors.KindIndeterminateParent, meta.Schema, meta.Name, "multiple documents in layer %q match the parent selector, including %s and %s", parentLayer, a, b)
	}
}

// Apply layers a child onto its parent's rendered data: the result starts as
// a copy of the parent's data, then the child's actions apply in order, each
// transplanting or removing data at one path. The returned document is the
// child with its data section replaced by the result.
func Apply(child document.Document, parentRendered document.Document) (document.Document, *xerrors.Error) {
	meta := child.Meta()
	def, _ := child.LayeringDefinition()

	rendered := copyValue(parentRendered.Data())
	childData := child.Data()

	for _, action := range def.Actions {
		path, err := dpath.Parse(action.Path)
		if err != nil {
			return document.Document{}, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "invalid action path %q: %v", action.Path, err)
		}

		var aerr *xerrors.Error
		switch action.Method {
		case MethodDelete:
			rendered, aerr = applyDelete(meta, rendered, path)
		case MethodMerge:
			rendered, aerr = applyMerge(meta, rendered, childData, path)
		case MethodReplace:
			rendered, aerr = applyReplace(meta, rendered, childData, path)
		default:
			aerr = xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "unsupported action method %q", action.Method)
		}
		if aerr != nil {
			return document.Document{}, aerr
		}
	}
	return child.WithData(rendered), nil
}

func applyDelete(meta document.Meta, rendered any, path dpath.Path) (any, *xerrors.Error) {
	if path.IsRoot() {
		// Deleting everything leaves an empty object, not nothing, so
		// later actions and substitutions still have a destination.
		return map[string]any{}, nil
	}
	out, err := dpath.Delete(rendered, path)
	if err != nil {
		if dpath.IsNotFound(err) {
			return nil, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "delete action path %q not found in parent data", path)
		}
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "delete action at %q: %v", path, err)
	}
	return out, nil
}

func applyReplace(meta document.Meta, rendered, childData any, path dpath.Path) (any, *xerrors.Error) {
	v, err := dpath.Extract(childData, path)
	if err != nil {
		if dpath.IsNotFound(err) {
			return nil, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "replace action path %q not found in child data", path)
		}
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "replace action at %q: %v", path, err)
	}
	// Replace requires the path on both sides; it never grafts new keys.
	if _, err := dpath.Extract(rendered, path); err != nil {
		if dpath.IsNotFound(err) {
			return nil, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "replace action path %q not found in parent data", path)
		}
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "replace action at %q: %v", path, err)
	}
	out, err := dpath.Inject(rendered, path, copyValue(v))
	if err != nil {
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "replace action at %q: %v", path, err)
	}
	return out, nil
}

func applyMerge(meta document.Meta, rendered, childData any, path dpath.Path) (any, *xerrors.Error) {
	v, err := dpath.Extract(childData, path)
	if err != nil {
		if dpath.IsNotFound(err) {
			return nil, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "merge action path %q not found in child data", path)
		}
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "merge action at %q: %v", path, err)
	}
	childVal := copyValue(v)

	existing, err := dpath.Extract(rendered, path)
	if err != nil {
		if dpath.IsNotFound(err) {
			return nil, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "merge action path %q not found in parent data", path)
		}
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "merge action at %q: %v", path, err)
	}

	// Where both sides hold objects the merge recurses; otherwise the child
	// value wins outright, zero values included.
	merged := childVal
	if em, ok := existing.(map[string]any); ok {
		if cm, ok := childVal.(map[string]any); ok {
			dst := em
			if mergeErr := mergo.Merge(&dst, cm, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); mergeErr != nil {
				return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "merge action at %q: %v", path, mergeErr)
			}
			merged = dst
		}
	}

	out, err := dpath.Inject(rendered, path, merged)
	if err != nil {
		return nil, xerrors.New(xerrors.KindInvalidAction, meta.Schema, meta.Name, "merge action at %q: %v", path, err)
	}
	return out, nil
}

// copyValue returns a structurally independent copy of a JSON-typed value.
func copyValue(v any) any {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v) //nolint:errcheck // Round-trips a JSON-typed value.
	var out any
	_ = json.Unmarshal(b, &out) //nolint:errcheck
	return out
}
