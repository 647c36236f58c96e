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

// Package substitution copies values between rendered documents: each
// substitution extracts a value from a source document's data, resolves it
// through the secret store when the source is encrypted, and injects it at
// one or more destination paths of the consuming document.
package substitution

import (
	"context"
	"encoding/json"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/dpath"
	"github.com/airshipit/deckhand/internal/secrets"
	"github.com/airshipit/deckhand/internal/xerrors"
)

const errNoSecretStore = "no secret store configured"

// A SourceFunc resolves a substitution source to its latest rendered
// document.
type SourceFunc func(meta document.Meta) (document.Document, bool)

// A Substitutor applies document substitutions.
type Substitutor struct {
	store   secrets.Store
	log     logging.Logger
	lenient bool
}

// An Option configures a Substitutor.
type Option func(*Substitutor)

// WithLogger configures how a Substitutor logs.
func WithLogger(l logging.Logger) Option {
	return func(s *Substitutor) { s.log = l }
}

// LenientSources makes missing substitution sources (and missing source
// paths) skip the substitution with a warning instead of failing the render.
// Secret store failures are always fatal.
func LenientSources() Option {
	return func(s *Substitutor) { s.lenient = true }
}

// New returns a Substitutor resolving encrypted sources through the supplied
// store.
func New(store secrets.Store, opts ...Option) *Substitutor {
	s := &Substitutor{store: store, log: logging.NewNopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply runs every substitution of the document in declaration order and
// returns the document with its data updated. The lookup function must serve
// the latest rendered form of each source, including the document itself for
// self-referential substitutions. Sources must be concrete; an abstract
// source fails the substitution regardless of leniency.
func (s *Substitutor) Apply(ctx context.Context, d document.Document, lookup SourceFunc) (document.Document, *xerrors.Error) {
	subs := d.Substitutions()
	if len(subs) == 0 {
		return d, nil
	}
	meta := d.Meta()
	data := copyValue(d.Data())

	for _, sub := range subs {
		srcMeta := document.Meta{Schema: sub.Src.Schema, Name: sub.Src.Name}

		src, ok := lookup(srcMeta)
		if !ok {
			if s.lenient {
				s.log.Info("Skipping substitution: source document not found", "document", meta.String(), "source", srcMeta.String())
				continue
			}
			return document.Document{}, xerrors.New(xerrors.KindSubstitutionSourceMissing, meta.Schema, meta.Name, "substitution source %s not found", srcMeta)
		}
		if src.Abstract() {
			return document.Document{}, xerrors.New(xerrors.KindSubstitutionSourceMissing, meta.Schema, meta.Name, "substitution source %s is abstract; sources must be concrete", srcMeta)
		}

		srcPath, err := dpath.Parse(sub.Src.Path)
		if err != nil {
			return document.Document{}, xerrors.New(xerrors.KindSubstitutionDataMissing, meta.Schema, meta.Name, "invalid substitution source path %q: %v", sub.Src.Path, err)
		}
		value, err := dpath.Extract(src.Data(), srcPath)
		if err != nil {
			if dpath.IsNotFound(err) && s.lenient {
				s.log.Info("Skipping substitution: source path not found", "document", meta.String(), "source", srcMeta.String(), "path", sub.Src.Path)
				continue
			}
			return document.Document{}, xerrors.New(xerrors.KindSubstitutionDataMissing, meta.Schema, meta.Name, "substitution source %s has no data at %q", srcMeta, sub.Src.Path)
		}
		value = copyValue(value)

		if src.IsEncrypted() {
			value, err = s.resolveSecret(ctx, value)
			if err != nil {
				return document.Document{}, xerrors.New(xerrors.KindSecretStoreError, meta.Schema, meta.Name, "cannot resolve secret from %s: %v", srcMeta, err)
			}
		}

		for _, dest := range sub.Dest {
			destPath, err := dpath.Parse(dest.Path)
			if err != nil {
				return document.Document{}, xerrors.New(xerrors.KindMissingKey, meta.Schema, meta.Name, "invalid substitution dest path %q: %v", dest.Path, err)
			}
			if dest.Pattern != "" {
				data, err = dpath.InjectPattern(data, destPath, dest.Pattern, value)
			} else {
				data, err = dpath.Inject(data, destPath, value)
			}
			if err != nil {
				kind := xerrors.KindMissingKey
				if !dpath.IsNotFound(err) {
					kind = xerrors.KindDataInvalid
				}
				return document.Document{}, xerrors.New(kind, meta.Schema, meta.Name, "cannot substitute into %q: %v", dest.Path, err)
			}
		}
	}
	return d.WithData(data), nil
}

// resolveSecret swaps a secret reference for its payload. Values from
// encrypted documents that do not look like references pass through; they
// were stored cleartext before encryption was enabled.
func (s *Substitutor) resolveSecret(ctx context.Context, value any) (any, error) {
	ref, ok := value.(string)
	if !ok || !secrets.IsReference(ref) {
		return value, nil
	}
	if s.store == nil {
		return nil, errors.New(errNoSecretStore)
	}
	payload, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func copyValue(v any) any {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v) //nolint:errcheck // Round-trips a JSON-typed value.
	var out any
	_ = json.Unmarshal(b, &out) //nolint:errcheck
	return out
}
