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
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/storage"
	"github.com/airshipit/deckhand/internal/xerrors"
)

func (s *Server) listRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := s.store.GetRevisions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(revs))
	for i := range revs {
		views = append(views, revisionView(&revs[i]))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"results": views,
	})
}

func (s *Server) getRevision(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	rev, err := s.store.GetRevision(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, revisionView(rev))
}

func (s *Server) deleteAllRevisions(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAllRevisions(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRevisionDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	records, err := s.store.GetRevisionRecords(r.Context(), id, filterFromQuery(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		views = append(views, docView(rec.Document, rec.Bucket, rec.Revision))
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) getRenderedDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}

	records, err := s.store.GetRevisionRecords(r.Context(), id, document.Filter{})
	if err != nil {
		s.fail(w, err)
		return
	}
	buckets := make(map[document.Meta]string, len(records))
	for _, rec := range records {
		buckets[rec.Document.Meta()] = rec.Bucket
	}

	rendered, err := s.store.Rendered(r.Context(), id, func(ctx context.Context, docs []document.Document) ([]document.Document, error) {
		ctx, cancel := context.WithTimeout(ctx, s.renderTimeout)
		defer cancel()

		start := time.Now()
		out, err := s.engine.Render(ctx, docs)
		if s.m != nil {
			s.m.ObserveRender(time.Since(start), err)
		}
		return out, err
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	f := filterFromQuery(r)
	views := make([]map[string]any, 0, len(rendered))
	for _, d := range rendered {
		bucket := buckets[d.Meta()]
		if !f.Matches(d, bucket) {
			continue
		}
		views = append(views, docView(d, bucket, id))
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	from, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	to, ok := s.revisionID(w, r, "to")
	if !ok {
		return
	}
	diff, err := s.store.Diff(r.Context(), from, to)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, diff)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	before, err := s.store.CurrentRevision(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	rev, err := s.store.Rollback(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.m != nil && rev.ID > before {
		s.m.RevisionCreated()
	}
	s.respond(w, http.StatusCreated, revisionView(rev))
}

func revisionView(rev *storage.Revision) map[string]any {
	v := map[string]any{
		"id":        rev.ID,
		"createdAt": rev.CreatedAt.Format(time.RFC3339),
		"buckets":   rev.Buckets,
	}
	if len(rev.Tags) > 0 {
		v["tags"] = rev.Tags
	}
	return v
}

// revisionID parses a revision id path parameter, failing the request on
// malformed input.
func (s *Server) revisionID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		s.fail(w, xerrors.New(xerrors.KindDataInvalid, "", "", "invalid revision id %q", raw))
		return 0, false
	}
	return id, true
}

// filterFromQuery builds a document filter from the recognized query
// parameters.
func filterFromQuery(r *http.Request) document.Filter {
	q := r.URL.Query()
	f := document.Filter{
		Schema: q.Get("schema"),
		Name:   q.Get("metadata.name"),
		Layer:  q.Get("metadata.layeringDefinition.layer"),
		Bucket: q.Get("status.bucket"),
	}
	if raw := q.Get("metadata.layeringDefinition.abstract"); raw != "" {
		abstract := raw == "true"
		f.Abstract = &abstract
	}
	for _, kv := range q["metadata.label"] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if f.Labels == nil {
			f.Labels = map[string]string{}
		}
		f.Labels[k] = v
	}
	return f
}
