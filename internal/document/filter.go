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

package document

import "strings"

// A Filter selects documents from a revision. Zero-valued fields match
// everything.
type Filter struct {
	// Schema matches exactly, or by leading segments: "deckhand" matches
	// every deckhand/* document, "deckhand/Passphrase" every version of it.
	Schema string

	// Name matches metadata.name exactly.
	Name string

	// Layer matches metadata.layeringDefinition.layer exactly.
	Layer string

	// Abstract, when non-nil, matches the document's abstract flag.
	Abstract *bool

	// Labels must all be present and equal in metadata.labels.
	Labels map[string]string

	// Bucket matches the bucket the document was written through.
	Bucket string
}

// Matches reports whether a document owned by the named bucket passes the
// filter.
func (f Filter) Matches(d Document, bucket string) bool {
	if f.Schema != "" && !schemaMatches(f.Schema, d.Schema()) {
		return false
	}
	if f.Name != "" && d.Name() != f.Name {
		return false
	}
	if f.Layer != "" && d.Layer() != f.Layer {
		return false
	}
	if f.Abstract != nil && d.Abstract() != *f.Abstract {
		return false
	}
	if len(f.Labels) > 0 && !d.MatchesLabels(f.Labels) {
		return false
	}
	if f.Bucket != "" && bucket != f.Bucket {
		return false
	}
	return true
}

func schemaMatches(want, got string) bool {
	if want == got {
		return true
	}
	return strings.HasPrefix(got, want+"/")
}
