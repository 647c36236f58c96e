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
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"sigs.k8s.io/yaml"

	"github.com/airshipit/deckhand/internal/storage"
	"github.com/airshipit/deckhand/internal/xerrors"
)

// readBodyMap decodes an optional YAML mapping request body. An empty body
// yields a nil map; anything that is not a mapping is an error.
func readBodyMap(r *http.Request) (map[string]any, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, xerrors.New(xerrors.KindMalformedYAML, "", "", "cannot read request body: %v", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, xerrors.New(xerrors.KindMalformedYAML, "", "", "request body must be a YAML mapping: %v", err)
	}
	return m, nil
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	data, err := readBodyMap(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	tag, err := s.store.CreateTag(r.Context(), id, chi.URLParam(r, "tag"), data)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, tagView(tag))
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	tag, err := s.store.GetTag(r.Context(), id, chi.URLParam(r, "tag"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, tagView(tag))
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	tags, err := s.store.ListTags(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(tags))
	for i := range tags {
		views = append(views, tagView(&tags[i]))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"results": views,
	})
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTag(r.Context(), id, chi.URLParam(r, "tag")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAllTags(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteAllTags(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tagView(t *storage.Tag) map[string]any {
	return map[string]any{
		"tag":  t.Name,
		"data": t.Data,
	}
}

func (s *Server) createValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	data, err := readBodyMap(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	entry, err := s.store.CreateValidation(r.Context(), id, chi.URLParam(r, "name"), data)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{
		"id":     entry.ID,
		"name":   entry.Name,
		"status": entry.Status,
	})
}

func (s *Server) listValidations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	summaries, err := s.store.ListValidations(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(summaries))
	for _, v := range summaries {
		views = append(views, map[string]any{"name": v.Name, "status": v.Status})
	}
	s.respond(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"results": views,
	})
}

func (s *Server) listValidationEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	entries, err := s.store.ListValidationEntries(r.Context(), id, chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		views = append(views, map[string]any{"id": e.ID, "status": e.Status})
	}
	s.respond(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"results": views,
	})
}

func (s *Server) getValidationEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.revisionID(w, r, "id")
	if !ok {
		return
	}
	raw := chi.URLParam(r, "entry")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.fail(w, xerrors.New(xerrors.KindDataInvalid, "", "", "invalid validation entry id %q", raw))
		return
	}
	entry, err := s.store.GetValidationEntry(r.Context(), id, chi.URLParam(r, "name"), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"id":     entry.ID,
		"name":   entry.Name,
		"status": entry.Status,
		"data":   entry.Data,
	})
}
