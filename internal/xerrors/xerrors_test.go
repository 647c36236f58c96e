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

package xerrors

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[string]struct {
		kind Kind
		want int
	}{
		"Validation": {kind: KindDataInvalid, want: http.StatusBadRequest},
		"Conflict":   {kind: KindConflict, want: http.StatusConflict},
		"NoPolicy":   {kind: KindLayeringPolicyMissing, want: http.StatusConflict},
		"Store":      {kind: KindSecretStoreError, want: http.StatusBadGateway},
		"NotFound":   {kind: KindRevisionNotFound, want: http.StatusNotFound},
		"Forbidden":  {kind: KindForbidden, want: http.StatusForbidden},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := tc.kind.HTTPStatus(); got != tc.want {
				t.Errorf("HTTPStatus(%q): got %d, want %d", tc.kind, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !KindSecretStoreError.Retryable() {
		t.Error("Retryable(): secret store failures are transient")
	}
	if KindDataInvalid.Retryable() {
		t.Error("Retryable(): validation failures are permanent")
	}
}

func TestAs(t *testing.T) {
	base := New(KindMissingParent, "x/Y/v1", "doc", "no parent")
	wrapped := errors.Wrap(base, "render failed")

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("As(): engine error not found in chain")
	}
	if got.Kind != KindMissingParent {
		t.Errorf("As(): got kind %q", got.Kind)
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Error("As(): plain errors are not engine errors")
	}
}

func TestList(t *testing.T) {
	l := &List{}
	if !l.Empty() {
		t.Error("Empty(): fresh list should be empty")
	}
	if l.Retryable() {
		t.Error("Retryable(): empty list is not retryable")
	}

	l.Append(nil, New(KindDataInvalid, "x/Y/v1", "a", "bad"), New(KindSecretStoreError, "x/Y/v1", "b", "down"))

	if l.Empty() || len(l.Errors()) != 2 {
		t.Fatalf("Append(): got %d errors, want 2 with nils skipped", len(l.Errors()))
	}
	if got := l.HTTPStatus(); got != http.StatusBadGateway {
		t.Errorf("HTTPStatus(): got %d, want the most severe status", got)
	}
	if l.Retryable() {
		t.Error("Retryable(): mixed lists are not retryable")
	}
	if msg := l.Error(); !strings.Contains(msg, "bad") || !strings.Contains(msg, "down") {
		t.Errorf("Error(): got %q", msg)
	}

	transient := &List{}
	transient.Append(New(KindSecretStoreError, "", "", "down"))
	if !transient.Retryable() {
		t.Error("Retryable(): all-transient lists are retryable")
	}
}

func TestSanitize(t *testing.T) {
	isRef := func(s string) bool { return strings.HasPrefix(s, "https://secrets/") }

	t.Run("InsecurePattern", func(t *testing.T) {
		e := New(KindDataInvalid, "x/Y/v1", "pw", "'hunter2' is not of type integer")
		Sanitize(e, true, isRef)
		if e.Message != Redacted {
			t.Errorf("Sanitize(): got %q, want wholesale redaction", e.Message)
		}
	})

	t.Run("InsecurePatternNotSensitive", func(t *testing.T) {
		e := New(KindDataInvalid, "x/Y/v1", "doc", "'3' is not of type string")
		Sanitize(e, false, isRef)
		if e.Message == Redacted {
			t.Error("Sanitize(): non-sensitive messages keep their detail")
		}
	})

	t.Run("ReferenceTokens", func(t *testing.T) {
		e := New(KindMissingKey, "x/Y/v1", "doc", `cannot read "https://secrets/abc" here`)
		Sanitize(e, false, isRef)
		if strings.Contains(e.Message, "https://secrets/abc") {
			t.Errorf("Sanitize(): reference survived: %q", e.Message)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		Sanitize(nil, true, isRef) // Must not panic.
	})
}
