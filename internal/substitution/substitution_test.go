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

package substitution

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/secrets/fake"
	"github.com/airshipit/deckhand/internal/xerrors"
)

func parse(t *testing.T, y string) document.Document {
	t.Helper()
	d, err := document.FromYAML([]byte(y))
	if err != nil {
		t.Fatalf("cannot parse fixture: %v", err)
	}
	return d
}

func index(docs ...document.Document) SourceFunc {
	m := map[document.Meta]document.Document{}
	for _, d := range docs {
		m[d.Meta()] = d
	}
	return func(meta document.Meta) (document.Document, bool) {
		d, ok := m[meta]
		return d, ok
	}
}

const consumer = `
schema: example/Chart/v1
metadata:
  schema: metadata/Document/v1
  name: chart
  layeringDefinition:
    layer: site
  substitutions:
    - src:
        schema: deckhand/Passphrase/v1
        name: db-password
        path: .
      dest:
        path: .values.password
    - src:
        schema: example/Endpoints/v1
        name: endpoints
        path: .db.host
      dest:
        - path: .values.host
        - path: .values.dsn
          pattern: HOST
data:
  values:
    dsn: mysql://HOST:3306/db
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

const endpoints = `
schema: example/Endpoints/v1
metadata:
  schema: metadata/Document/v1
  name: endpoints
  layeringDefinition:
    layer: site
data:
  db:
    host: db.example.org
`

func TestApply(t *testing.T) {
	s := New(fake.NewMemStore())

	got, err := s.Apply(context.Background(), parse(t, consumer), index(parse(t, passphrase), parse(t, endpoints)))
	if err != nil {
		t.Fatalf("Apply(...): %v", err)
	}

	want := map[string]any{
		"values": map[string]any{
			"password": "hunter2",
			"host":     "db.example.org",
			"dsn":      "mysql://db.example.org:3306/db",
		},
	}
	if diff := cmp.Diff(want, got.Data()); diff != "" {
		t.Errorf("Apply(...): -want, +got:\n%s", diff)
	}
}

func TestApplyMissingSource(t *testing.T) {
	t.Run("Strict", func(t *testing.T) {
		_, err := New(fake.NewMemStore()).Apply(context.Background(), parse(t, consumer), index(parse(t, endpoints)))
		if err == nil || err.Kind != xerrors.KindSubstitutionSourceMissing {
			t.Errorf("Apply(...): got %v, want substitution-source-not-found", err)
		}
	})

	t.Run("Lenient", func(t *testing.T) {
		got, err := New(fake.NewMemStore(), LenientSources()).Apply(context.Background(), parse(t, consumer), index(parse(t, endpoints)))
		if err != nil {
			t.Fatalf("Apply(...): %v", err)
		}
		values := got.DataMap()["values"].(map[string]any)
		if _, ok := values["password"]; ok {
			t.Error("Apply(...): skipped substitution should not write a value")
		}
		if values["host"] != "db.example.org" {
			t.Errorf("Apply(...): remaining substitutions should still run, got host %v", values["host"])
		}
	})
}

func TestApplyAbstractSource(t *testing.T) {
	abstract := parse(t, `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: db-password
  layeringDefinition:
    layer: site
    abstract: true
  storagePolicy: cleartext
data: hunter2
`)

	// Abstract documents never serve as sources, even under leniency.
	for name, s := range map[string]*Substitutor{
		"Strict":  New(fake.NewMemStore()),
		"Lenient": New(fake.NewMemStore(), LenientSources()),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Apply(context.Background(), parse(t, consumer), index(abstract, parse(t, endpoints)))
			if err == nil || err.Kind != xerrors.KindSubstitutionSourceMissing {
				t.Errorf("Apply(...): got %v, want substitution-source-not-found", err)
			}
		})
	}
}

func TestApplyMissingSourcePath(t *testing.T) {
	bad := parse(t, `
schema: example/Endpoints/v1
metadata:
  schema: metadata/Document/v1
  name: endpoints
  layeringDefinition:
    layer: site
data:
  db: {}
`)

	_, err := New(fake.NewMemStore()).Apply(context.Background(), parse(t, consumer), index(parse(t, passphrase), bad))
	if err == nil || err.Kind != xerrors.KindSubstitutionDataMissing {
		t.Errorf("Apply(...): got %v, want substitution-source-data-missing", err)
	}
}

func TestApplyEncryptedSource(t *testing.T) {
	store := fake.NewMemStore()
	ref, _ := store.Create(context.Background(), "db-password", "passphrase", "hunter2")

	encrypted := parse(t, `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: db-password
  layeringDefinition:
    layer: site
  storagePolicy: encrypted
data: `+ref+`
`)

	t.Run("Resolved", func(t *testing.T) {
		got, err := New(store).Apply(context.Background(), parse(t, consumer), index(encrypted, parse(t, endpoints)))
		if err != nil {
			t.Fatalf("Apply(...): %v", err)
		}
		if v := got.DataMap()["values"].(map[string]any)["password"]; v != "hunter2" {
			t.Errorf("Apply(...): got password %v, want resolved payload", v)
		}
	})

	t.Run("StoreError", func(t *testing.T) {
		failing := &fake.MockStore{
			MockGet: func(_ context.Context, _ string) (string, error) {
				return "", errors.New("boom")
			},
		}
		_, err := New(failing).Apply(context.Background(), parse(t, consumer), index(encrypted, parse(t, endpoints)))
		if err == nil || err.Kind != xerrors.KindSecretStoreError {
			t.Errorf("Apply(...): got %v, want secret-store-error", err)
		}
	})

	t.Run("CleartextValuePassesThrough", func(t *testing.T) {
		legacy := parse(t, `
schema: deckhand/Passphrase/v1
metadata:
  schema: metadata/Document/v1
  name: db-password
  layeringDefinition:
    layer: site
  storagePolicy: encrypted
data: stored-before-encryption
`)
		got, err := New(store).Apply(context.Background(), parse(t, consumer), index(legacy, parse(t, endpoints)))
		if err != nil {
			t.Fatalf("Apply(...): %v", err)
		}
		if v := got.DataMap()["values"].(map[string]any)["password"]; v != "stored-before-encryption" {
			t.Errorf("Apply(...): got password %v", v)
		}
	})
}

func TestApplyNoSubstitutions(t *testing.T) {
	d := parse(t, endpoints)
	got, err := New(fake.NewMemStore()).Apply(context.Background(), d, index())
	if err != nil {
		t.Fatalf("Apply(...): %v", err)
	}
	if !got.Equal(d) {
		t.Error("Apply(...): documents without substitutions should pass through unchanged")
	}
}
