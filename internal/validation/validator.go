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

// Package validation checks documents against JSON Schemas in two phases:
// structural validation against the root and metadata schemas before any
// rendering, and data validation against per-kind schemas after a document is
// fully rendered.
package validation

import (
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/schema"
	"github.com/airshipit/deckhand/internal/xerrors"
)

// A Validator runs the validation phases of a render.
type Validator struct {
	log    logging.Logger
	strict bool
}

// An Option configures a Validator.
type Option func(*Validator)

// WithLogger configures how a Validator logs.
func WithLogger(l logging.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// Strict makes data validation fail for kinds with no registered schema
// instead of logging and moving on.
func Strict() Option {
	return func(v *Validator) { v.strict = true }
}

// New returns a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{log: logging.NewNopLogger()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Structural validates a document's shape: the root schema, then the schema
// of its metadata family. Unknown metadata families are structural errors.
func (v *Validator) Structural(s *schema.Session, d document.Document) *xerrors.Error {
	meta := d.Meta()

	if result := s.Root().Validate(d.Object()); !result.IsValid() {
		return xerrors.New(xerrors.KindStructuralInvalid, meta.Schema, meta.Name, "%s", flatten(result))
	}

	family := d.MetadataSchema()
	ms, ok := s.Metadata(family)
	if !ok {
		return xerrors.New(xerrors.KindStructuralInvalid, meta.Schema, meta.Name, "unknown metadata family %q", family)
	}
	if result := ms.Validate(d.Metadata()); !result.IsValid() {
		return xerrors.New(xerrors.KindStructuralInvalid, meta.Schema, meta.Name, "%s", flatten(result))
	}
	return nil
}

// Data validates a rendered document's data section against the schema
// registered for its kind. Abstract documents are never data-validated. A
// kind with no registered schema is an error only in strict mode.
func (v *Validator) Data(s *schema.Session, d document.Document) *xerrors.Error {
	if d.Abstract() {
		return nil
	}
	meta := d.Meta()

	ks, ok := s.Kind(meta.Schema)
	if !ok {
		if v.strict {
			return xerrors.New(xerrors.KindUnknownKind, meta.Schema, meta.Name, "no schema registered for kind %q", document.KindOf(meta.Schema))
		}
		v.log.Debug("No schema registered for kind; skipping data validation", "schema", meta.Schema, "name", meta.Name)
		return nil
	}

	if result := ks.Validate(d.Data()); !result.IsValid() {
		return xerrors.New(xerrors.KindDataInvalid, meta.Schema, meta.Name, "%s", flatten(result))
	}
	return nil
}

// flatten joins every leaf message of an evaluation result in deterministic
// order.
func flatten(result *jsonschema.EvaluationResult) string {
	msgs := collect(result.ToList())
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

func collect(l *jsonschema.List) []string {
	if l == nil {
		return nil
	}
	var msgs []string
	keys := make([]string, 0, len(l.Errors))
	for k := range l.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msgs = append(msgs, l.Errors[k])
	}
	for i := range l.Details {
		msgs = append(msgs, collect(&l.Details[i])...)
	}
	return msgs
}
