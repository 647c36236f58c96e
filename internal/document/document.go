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

// Package document defines the Deckhand document value type. A document is a
// self-describing configuration object with schema, metadata and data
// sections. Documents are immutable values: mutating operations return a new
// document and never share state with the original.
package document

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Well-known schema strings.
const (
	SchemaLayeringPolicy = "deckhand/LayeringPolicy/v1"
	SchemaDataSchema     = "deckhand/DataSchema/v1"

	MetadataDocument = "metadata/Document/v1"
	MetadataControl  = "metadata/Control/v1"

	StoragePolicyCleartext = "cleartext"
	StoragePolicyEncrypted = "encrypted"
)

const errUnmarshalDocument = "cannot unmarshal document YAML"

// Meta identifies a document within a revision. A (schema, name) pair occurs
// at most once per revision.
type Meta struct {
	Schema string
	Name   string
}

func (m Meta) String() string {
	return m.Schema + "/" + m.Name
}

// A LayeringDefinition controls how a document is layered onto its parent.
type LayeringDefinition struct {
	Layer          string
	ParentSelector map[string]string
	Actions        []Action
	Abstract       bool
}

// An Action is a single layering transform, applied in order.
type Action struct {
	Path   string
	Method string
}

// A Substitution injects a value extracted from a source document into one or
// more destinations of this document.
type Substitution struct {
	Src  SubstitutionSource
	Dest []SubstitutionDest
}

// A SubstitutionSource locates the value to extract.
type SubstitutionSource struct {
	Schema string
	Name   string
	Path   string
}

// A SubstitutionDest locates where the value lands, optionally replacing the
// first match of a regex pattern within an existing string.
type SubstitutionDest struct {
	Path    string
	Pattern string
}

// A Document wraps the raw object form of a Deckhand document. The zero value
// is an empty document.
type Document struct {
	object map[string]any
}

// New wraps an object as a Document. The object is not copied; callers must
// not retain references to it.
func New(object map[string]any) Document {
	return Document{object: object}
}

// FromYAML parses a single YAML document.
func FromYAML(data []byte) (Document, error) {
	object := map[string]any{}
	if err := yaml.Unmarshal(data, &object); err != nil {
		return Document{}, errors.Wrap(err, errUnmarshalDocument)
	}
	return Document{object: object}, nil
}

// ToYAML serializes the document.
func (d Document) ToYAML() ([]byte, error) {
	return yaml.Marshal(d.object)
}

// Object returns the raw object form of the document. Callers must not
// mutate it.
func (d Document) Object() map[string]any {
	return d.object
}

// DeepCopy returns a structurally independent copy of the document.
func (d Document) DeepCopy() Document {
	if d.object == nil {
		return Document{}
	}
	b, _ := json.Marshal(d.object) //nolint:errcheck // Round-trips a JSON-typed map.
	object := map[string]any{}
	_ = json.Unmarshal(b, &object) //nolint:errcheck
	return Document{object: object}
}

// Equal reports whether two documents are byte-identical in canonical form.
func (d Document) Equal(other Document) bool {
	a, _ := json.Marshal(d.object)     //nolint:errcheck // JSON-typed maps always marshal.
	b, _ := json.Marshal(other.object) //nolint:errcheck
	return bytes.Equal(a, b)
}

// Schema returns the document's kind identifier, e.g. "deckhand/Passphrase/v1".
func (d Document) Schema() string {
	s, _ := d.object["schema"].(string)
	return s
}

// Metadata returns the metadata section.
func (d Document) Metadata() map[string]any {
	m, _ := d.object["metadata"].(map[string]any)
	return m
}

// Name returns metadata.name.
func (d Document) Name() string {
	n, _ := d.Metadata()["name"].(string)
	return n
}

// Meta returns the document's revision-unique identity.
func (d Document) Meta() Meta {
	return Meta{Schema: d.Schema(), Name: d.Name()}
}

// MetadataSchema returns metadata.schema.
func (d Document) MetadataSchema() string {
	s, _ := d.Metadata()["schema"].(string)
	return s
}

// IsControl reports whether this is a control document, such as the layering
// policy or a DataSchema.
func (d Document) IsControl() bool {
	return d.MetadataSchema() == MetadataControl
}

// Labels returns metadata.labels as a string map.
func (d Document) Labels() map[string]string {
	raw, _ := d.Metadata()["labels"].(map[string]any)
	labels := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			labels[k] = s
		}
	}
	return labels
}

// MatchesLabels reports whether every key/value pair of the selector is
// present and equal in the document's labels.
func (d Document) MatchesLabels(selector map[string]string) bool {
	labels := d.Labels()
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func (d Document) layeringDefinition() map[string]any {
	ld, _ := d.Metadata()["layeringDefinition"].(map[string]any)
	return ld
}

// LayeringDefinition decodes metadata.layeringDefinition. The second return
// is false when the section is absent.
func (d Document) LayeringDefinition() (LayeringDefinition, bool) {
	raw := d.layeringDefinition()
	if raw == nil {
		return LayeringDefinition{}, false
	}
	def := LayeringDefinition{ParentSelector: map[string]string{}}
	def.Layer, _ = raw["layer"].(string)
	def.Abstract, _ = raw["abstract"].(bool)
	if sel, ok := raw["parentSelector"].(map[string]any); ok {
		for k, v := range sel {
			if s, ok := v.(string); ok {
				def.ParentSelector[k] = s
			}
		}
	}
	if actions, ok := raw["actions"].([]any); ok {
		for _, a := range actions {
			am, ok := a.(map[string]any)
			if !ok {
				continue
			}
			action := Action{}
			action.Path, _ = am["path"].(string)
			action.Method, _ = am["method"].(string)
			def.Actions = append(def.Actions, action)
		}
	}
	return def, true
}

// Layer returns metadata.layeringDefinition.layer.
func (d Document) Layer() string {
	l, _ := d.layeringDefinition()["layer"].(string)
	return l
}

// Abstract reports whether the document is abstract. Abstract documents are
// layered but never validated against data schemas nor returned as rendered
// output.
func (d Document) Abstract() bool {
	a, _ := d.layeringDefinition()["abstract"].(bool)
	return a
}

// HasLayering reports whether the document participates in layering, i.e. its
// layeringDefinition carries both a parent selector and actions.
func (d Document) HasLayering() bool {
	ld := d.layeringDefinition()
	if ld == nil {
		return false
	}
	_, hasSelector := ld["parentSelector"]
	_, hasActions := ld["actions"]
	return hasSelector && hasActions
}

// Substitutions decodes metadata.substitutions. Scalar dest entries are
// normalized to single-element lists.
func (d Document) Substitutions() []Substitution {
	raw, _ := d.Metadata()["substitutions"].([]any)
	if len(raw) == 0 {
		return nil
	}
	subs := make([]Substitution, 0, len(raw))
	for _, r := range raw {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		sub := Substitution{}
		if src, ok := rm["src"].(map[string]any); ok {
			sub.Src.Schema, _ = src["schema"].(string)
			sub.Src.Name, _ = src["name"].(string)
			sub.Src.Path, _ = src["path"].(string)
		}
		switch dest := rm["dest"].(type) {
		case map[string]any:
			sub.Dest = append(sub.Dest, decodeDest(dest))
		case []any:
			for _, e := range dest {
				if em, ok := e.(map[string]any); ok {
					sub.Dest = append(sub.Dest, decodeDest(em))
				}
			}
		}
		subs = append(subs, sub)
	}
	return subs
}

func decodeDest(m map[string]any) SubstitutionDest {
	dest := SubstitutionDest{}
	dest.Path, _ = m["path"].(string)
	dest.Pattern, _ = m["pattern"].(string)
	return dest
}

// StoragePolicy returns metadata.storagePolicy, defaulting to cleartext.
func (d Document) StoragePolicy() string {
	p, _ := d.Metadata()["storagePolicy"].(string)
	if p == "" {
		return StoragePolicyCleartext
	}
	return p
}

// IsEncrypted reports whether the document's data must be held by the secret
// store rather than the revision store.
func (d Document) IsEncrypted() bool {
	return d.StoragePolicy() == StoragePolicyEncrypted
}

// Data returns the data section. It may be an object, a string, or any other
// primitive, depending on the document's kind.
func (d Document) Data() any {
	return d.object["data"]
}

// DataMap returns the data section as an object, or nil if it is not one.
func (d Document) DataMap() map[string]any {
	m, _ := d.object["data"].(map[string]any)
	return m
}

// WithData returns a copy of the document whose data section is replaced by
// the supplied value.
func (d Document) WithData(data any) Document {
	c := d.DeepCopy()
	if c.object == nil {
		c.object = map[string]any{}
	}
	c.object["data"] = data
	return c
}

// Kind returns the schema with its version reduced to the major component,
// e.g. "deckhand/Passphrase/v1" for "deckhand/Passphrase/v1.0". This is the
// key under which data schemas register.
func (d Document) Kind() string {
	return KindOf(d.Schema())
}
