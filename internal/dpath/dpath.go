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

// Package dpath implements the restricted JSONPath dialect used by layering
// actions and substitutions: dot-separated segments rooted at a document's
// data section, with numeric segments addressing list elements. The path "."
// (or "$") selects the data section itself.
package dpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/fieldpath"
)

const (
	errEmptyPath       = "path must not be empty"
	errFmtLeadingDot   = "path %q must start with '.' or '$.'"
	errFmtEmptySegment = "path %q contains an empty segment"
	errNotAnObject     = "data section is not an object"
	errFmtGetValue     = "cannot extract value at %q"
	errFmtSetValue     = "cannot inject value at %q"
	errFmtDeleteField  = "cannot delete value at %q"
	errFmtNotAString   = "value at %q is not a string"
	errFmtBadPattern   = "cannot compile pattern %q"
	errRootDelete      = "cannot delete the whole data section"
)

// A Path addresses a value inside a document's data section. Parse once,
// apply many times.
type Path struct {
	raw   string
	inner string // fieldpath form; empty for the root path
}

// Parse validates and converts a Deckhand path.
func Parse(path string) (Path, error) {
	if path == "" {
		return Path{}, errors.New(errEmptyPath)
	}
	rest := strings.TrimPrefix(path, "$")
	if rest == "" {
		return Path{raw: path}, nil
	}
	if !strings.HasPrefix(rest, ".") {
		return Path{}, errors.Errorf(errFmtLeadingDot, path)
	}
	rest = rest[1:]
	if rest == "" {
		return Path{raw: path}, nil
	}

	segments := strings.Split(rest, ".")
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" {
			return Path{}, errors.Errorf(errFmtEmptySegment, path)
		}
		if i, err := strconv.Atoi(s); err == nil && i >= 0 {
			if len(parts) == 0 {
				return Path{}, errors.Errorf(errFmtLeadingDot, path)
			}
			parts[len(parts)-1] += fmt.Sprintf("[%d]", i)
			continue
		}
		parts = append(parts, s)
	}
	return Path{raw: path, inner: strings.Join(parts, ".")}, nil
}

// MustParse is Parse for paths known valid at compile time.
func MustParse(path string) Path {
	p, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path as written.
func (p Path) String() string { return p.raw }

// IsRoot reports whether the path selects the whole data section.
func (p Path) IsRoot() bool { return p.inner == "" }

// IsNotFound reports whether an Extract or Delete error means the addressed
// value does not exist.
func IsNotFound(err error) bool {
	return fieldpath.IsNotFound(err)
}

// Extract returns the value the path addresses within data. The returned
// value shares structure with data; callers that retain it must copy.
func Extract(data any, p Path) (any, error) {
	if p.IsRoot() {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, errors.New(errNotAnObject)
	}
	v, err := fieldpath.Pave(m).GetValue(p.inner)
	if err != nil {
		return nil, errors.Wrapf(err, errFmtGetValue, p.raw)
	}
	return v, nil
}

// Inject sets the value the path addresses within data, creating intermediate
// objects and list elements as needed, and returns the updated data section.
// The root path replaces the data section wholesale.
func Inject(data any, p Path, value any) (any, error) {
	if p.IsRoot() {
		return value, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		if data != nil {
			return nil, errors.New(errNotAnObject)
		}
		m = map[string]any{}
	}
	if err := fieldpath.Pave(m).SetValue(p.inner, value); err != nil {
		return nil, errors.Wrapf(err, errFmtSetValue, p.raw)
	}
	return m, nil
}

// InjectPattern splices value over the first match of pattern in the string
// the path addresses. Unlike Inject it never vivifies: the destination string
// must already exist. A pattern that matches nothing leaves the string
// unchanged.
func InjectPattern(data any, p Path, pattern string, value any) (any, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, errFmtBadPattern, pattern)
	}

	existing, err := Extract(data, p)
	if err != nil {
		return nil, err
	}
	s, ok := existing.(string)
	if !ok {
		return nil, errors.Errorf(errFmtNotAString, p.raw)
	}

	loc := re.FindStringIndex(s)
	if loc == nil {
		return data, nil
	}
	spliced := s[:loc[0]] + fmt.Sprintf("%v", value) + s[loc[1]:]
	return Inject(data, p, spliced)
}

// Delete removes the value the path addresses and returns the updated data
// section. Deleting a path that does not exist is reported via IsNotFound.
func Delete(data any, p Path) (any, error) {
	if p.IsRoot() {
		return nil, errors.New(errRootDelete)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, errors.New(errNotAnObject)
	}
	paved := fieldpath.Pave(m)
	if _, err := paved.GetValue(p.inner); err != nil {
		return nil, errors.Wrapf(err, errFmtDeleteField, p.raw)
	}
	if err := paved.DeleteField(p.inner); err != nil {
		return nil, errors.Wrapf(err, errFmtDeleteField, p.raw)
	}
	return m, nil
}
