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

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/xerrors"
)

// putBucketDocuments replaces a bucket's contribution with the documents in
// the request body, a multi-document YAML stream.
func (s *Server) putBucketDocuments(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	docs, err := document.ParseStream(r.Body)
	if err != nil {
		s.fail(w, xerrors.New(xerrors.KindMalformedYAML, "", "", "cannot parse document stream: %v", err))
		return
	}
	if err := s.engine.Validate(docs); err != nil {
		s.fail(w, err)
		return
	}

	before, err := s.store.CurrentRevision(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	rev, written, err := s.store.CreateBucketDocuments(r.Context(), bucket, docs)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.m != nil && rev.ID > before {
		s.m.RevisionCreated()
	}

	views := make([]map[string]any, 0, len(written))
	for _, d := range written {
		views = append(views, docView(d, bucket, rev.ID))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"revision":  rev.ID,
		"documents": views,
	})
}

// docView shapes a document for a response, annotated with its storage
// status.
func docView(d document.Document, bucket string, rev int64) map[string]any {
	obj := d.DeepCopy().Object()
	obj["status"] = map[string]any{
		"bucket":   bucket,
		"revision": rev,
	}
	return obj
}
