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

// Package schema compiles and serves the JSON Schemas documents are validated
// against: the builtin root, metadata and deckhand kind schemas, plus data
// schemas registered at render time from DataSchema documents.
package schema

import (
	"encoding/json"
	"regexp"

	"github.com/kaptinlin/jsonschema"
	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/document"
)

// The kind a DataSchema targets is itself a schema identifier.
var schemaName = regexp.MustCompile(`^[A-Za-z0-9-_]+/[A-Za-z0-9-_]+/v\d+(\.\d+)?$`)

const (
	errFmtCompileBuiltin = "cannot compile builtin schema for %q"
	errCompileDataSchema = "cannot compile DataSchema body"
	errMarshalDataSchema = "cannot marshal DataSchema body"
	errDataSchemaNotMap  = "DataSchema data section must be a JSON Schema object"
	errFmtBadTargetName  = "DataSchema name %q is not a schema identifier"
)

// A Registry holds the compiled builtin schemas. It is immutable after
// construction; per-render DataSchema registrations live in a Session so
// concurrent renders never observe each other's registrations.
type Registry struct {
	compiler *jsonschema.Compiler

	root     *jsonschema.Schema
	metadata map[string]*jsonschema.Schema
	kinds    map[string]*jsonschema.Schema
}

// NewRegistry compiles the builtin schemas.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		compiler: jsonschema.NewCompiler(),
		metadata: map[string]*jsonschema.Schema{},
		kinds:    map[string]*jsonschema.Schema{},
	}

	var err error
	if r.root, err = r.compiler.Compile([]byte(rootSchema)); err != nil {
		return nil, errors.Wrapf(err, errFmtCompileBuiltin, "root")
	}

	for kind, src := range map[string]string{
		document.MetadataDocument: metadataDocumentSchema,
		document.MetadataControl:  metadataControlSchema,
	} {
		s, err := r.compiler.Compile([]byte(src))
		if err != nil {
			return nil, errors.Wrapf(err, errFmtCompileBuiltin, kind)
		}
		r.metadata[kind] = s
	}

	for kind, src := range builtinKinds {
		s, err := r.compiler.Compile([]byte(src))
		if err != nil {
			return nil, errors.Wrapf(err, errFmtCompileBuiltin, kind)
		}
		r.kinds[kind] = s
	}
	return r, nil
}

// Root returns the schema every document must satisfy.
func (r *Registry) Root() *jsonschema.Schema {
	return r.root
}

// Metadata returns the schema for the supplied metadata family, if known.
func (r *Registry) Metadata(metadataSchema string) (*jsonschema.Schema, bool) {
	s, ok := r.metadata[document.KindOf(metadataSchema)]
	return s, ok
}

// Kind returns the data schema registered for the supplied document schema,
// if any.
func (r *Registry) Kind(docSchema string) (*jsonschema.Schema, bool) {
	s, ok := r.kinds[document.KindOf(docSchema)]
	return s, ok
}

// NewSession returns an overlay registry for one render.
func (r *Registry) NewSession() *Session {
	return &Session{parent: r, kinds: map[string]*jsonschema.Schema{}}
}

// A Session overlays render-scoped DataSchema registrations on a Registry.
// Sessions are not safe for concurrent use; each render owns one.
type Session struct {
	parent *Registry
	kinds  map[string]*jsonschema.Schema
}

// Register compiles a DataSchema document's body and registers it under the
// kind named by the document's metadata.name. A registration shadows any
// builtin for the same kind within this session.
func (s *Session) Register(ds document.Document) error {
	target := ds.Name()
	if !schemaName.MatchString(target) {
		return errors.Errorf(errFmtBadTargetName, target)
	}

	body := ds.DataMap()
	if body == nil {
		return errors.New(errDataSchemaNotMap)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errMarshalDataSchema)
	}
	compiled, err := s.parent.compiler.Compile(raw)
	if err != nil {
		return errors.Wrap(err, errCompileDataSchema)
	}
	s.kinds[document.KindOf(target)] = compiled
	return nil
}

// Kind returns the data schema for the supplied document schema, preferring
// session registrations over builtins.
func (s *Session) Kind(docSchema string) (*jsonschema.Schema, bool) {
	if schema, ok := s.kinds[document.KindOf(docSchema)]; ok {
		return schema, true
	}
	return s.parent.Kind(docSchema)
}

// Root returns the root schema.
func (s *Session) Root() *jsonschema.Schema {
	return s.parent.Root()
}

// Metadata returns the schema for the supplied metadata family, if known.
func (s *Session) Metadata(metadataSchema string) (*jsonschema.Schema, bool) {
	return s.parent.Metadata(metadataSchema)
}
