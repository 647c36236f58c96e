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

// Package xerrors defines the closed error taxonomy of the rendering engine
// and the accumulator used to report every problem found in a single pass.
package xerrors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// A Kind identifies one failure class of the engine. The set is closed: every
// error surfaced to a client carries exactly one of these kinds.
type Kind string

// Error kinds.
const (
	KindMalformedYAML             Kind = "malformed-yaml"
	KindStructuralInvalid         Kind = "structural-invalid"
	KindDataInvalid               Kind = "data-invalid"
	KindUnknownKind               Kind = "unknown-kind"
	KindLayeringPolicyMissing     Kind = "layering-policy-missing"
	KindLayeringPolicyMalformed   Kind = "layering-policy-malformed"
	KindMissingParent             Kind = "missing-parent"
	KindIndeterminateParent       Kind = "indeterminate-parent"
	KindInvalidAction             Kind = "invalid-action"
	KindMissingKey                Kind = "missing-key"
	KindSubstitutionSourceMissing Kind = "substitution-source-not-found"
	KindSubstitutionDataMissing   Kind = "substitution-source-data-missing"
	KindSecretStoreError          Kind = "secret-store-error"
	KindCycleDetected             Kind = "cycle-detected"
	KindRevisionNotFound          Kind = "revision-not-found"
	KindConflict                  Kind = "conflict"
	KindForbidden                 Kind = "forbidden"
)

// HTTPStatus returns the HTTP status code a kind maps to.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindLayeringPolicyMissing, KindConflict:
		return http.StatusConflict
	case KindSecretStoreError:
		return http.StatusBadGateway
	case KindRevisionNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// Retryable reports whether failures of this kind are transient. Only
// transient failures set retry: true in the response envelope.
func (k Kind) Retryable() bool {
	return k == KindSecretStoreError
}

// An Error is a single engine failure, attributed to the document that caused
// it where one exists.
type Error struct {
	Kind    Kind
	Schema  string
	Name    string
	Message string
}

// New returns an error of the supplied kind attributed to the document
// identified by schema and name.
func New(kind Kind, schema, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Schema: schema, Name: name, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Schema == "" && e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: [%s] %s: %s", e.Kind, e.Schema, e.Name, e.Message)
}

// As extracts an *Error from err's chain, if one exists.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// A List accumulates errors across an entire rendering pass so that a single
// response can report every problem found.
type List struct {
	errs []*Error
}

// Append adds errors to the list, ignoring nils.
func (l *List) Append(errs ...*Error) {
	for _, e := range errs {
		if e != nil {
			l.errs = append(l.errs, e)
		}
	}
}

// Errors returns the accumulated errors in insertion order.
func (l *List) Errors() []*Error {
	return l.errs
}

// Empty reports whether no errors were accumulated.
func (l *List) Empty() bool {
	return len(l.errs) == 0
}

// HTTPStatus returns the status of the most severe accumulated error. Server
// errors win over client errors so that transient failures are not masked.
func (l *List) HTTPStatus() int {
	status := http.StatusBadRequest
	for _, e := range l.errs {
		if s := e.Kind.HTTPStatus(); s > status {
			status = s
		}
	}
	return status
}

// Retryable reports whether every accumulated error is transient.
func (l *List) Retryable() bool {
	if len(l.errs) == 0 {
		return false
	}
	for _, e := range l.errs {
		if !e.Kind.Retryable() {
			return false
		}
	}
	return true
}

func (l *List) Error() string {
	msgs := make([]string, len(l.errs))
	for i, e := range l.errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
