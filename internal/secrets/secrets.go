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

// Package secrets stores the payloads of encrypted documents in an external
// secret store and resolves the references written in their place.
package secrets

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// A Store holds secret payloads externally. Implementations are safe for
// concurrent use.
type Store interface {
	// Create stores a payload and returns an opaque reference to it.
	Create(ctx context.Context, name, kind, payload string) (string, error)

	// Get resolves a reference created by Create.
	Get(ctx context.Context, ref string) (string, error)

	// Delete removes the payload a reference points to. Deleting an
	// unknown reference is not an error.
	Delete(ctx context.Context, ref string) error
}

// Secret kinds understood by the store.
const (
	KindCertificate = "certificate"
	KindPrivate     = "private"
	KindPublic      = "public"
	KindPassphrase  = "passphrase"
)

// KindForSchema maps a document schema to the kind its payload is stored
// under. Unrecognized schemas store as passphrases, the most restrictive
// kind.
func KindForSchema(schema string) string {
	parts := strings.Split(schema, "/")
	if len(parts) < 2 {
		return KindPassphrase
	}
	switch strings.ToLower(parts[1]) {
	case "certificatekey", "certificateauthoritykey", "privatekey":
		return KindPrivate
	case "certificate", "certificateauthority":
		return KindCertificate
	case "publickey":
		return KindPublic
	default:
		return KindPassphrase
	}
}

// IsReference reports whether a value looks like a secret store reference: an
// http(s) URL with a "secrets" path segment ending in a UUID. The heuristic
// only applies to values extracted from encrypted documents; cleartext data
// is never treated as a reference.
func IsReference(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	hasSecrets := false
	for _, s := range segments {
		if s == "secrets" {
			hasSecrets = true
			break
		}
	}
	if !hasSecrets || len(segments) == 0 {
		return false
	}
	_, err = uuid.Parse(segments[len(segments)-1])
	return err == nil
}
