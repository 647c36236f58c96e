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

// Package server exposes the document store and rendering engine over HTTP.
// Requests and responses are YAML (application/x-yaml); errors use the
// Deckhand status envelope.
package server

import (
	"net/http"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/go-chi/chi/v5"

	"github.com/airshipit/deckhand/internal/engine"
	"github.com/airshipit/deckhand/internal/metrics"
	"github.com/airshipit/deckhand/internal/storage"
)

// apiPrefix is the version prefix all routes live under.
const apiPrefix = "/api/v1.0"

// defaultRenderTimeout bounds one render of one revision.
const defaultRenderTimeout = 60 * time.Second

// A Server handles the Deckhand HTTP API.
type Server struct {
	store  *storage.Store
	engine *engine.Engine
	log    logging.Logger
	m      *metrics.Metrics

	renderTimeout time.Duration
	router        chi.Router
}

// An Option configures a Server.
type Option func(*Server)

// WithLogger configures how a Server logs.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics configures the metrics a Server emits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.m = m }
}

// WithRenderTimeout bounds how long one render may run.
func WithRenderTimeout(d time.Duration) Option {
	return func(s *Server) { s.renderTimeout = d }
}

// New returns a Server routing the Deckhand API onto the supplied store and
// engine.
func New(store *storage.Store, e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		store:         store,
		engine:        e,
		log:           logging.NewNopLogger(),
		renderTimeout: defaultRenderTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Route(apiPrefix, func(r chi.Router) {
		r.Put("/buckets/{bucket}/documents", s.putBucketDocuments)

		r.Get("/revisions", s.listRevisions)
		r.Delete("/revisions", s.deleteAllRevisions)
		r.Get("/revisions/{id}", s.getRevision)
		r.Get("/revisions/{id}/documents", s.getRevisionDocuments)
		r.Get("/revisions/{id}/rendered-documents", s.getRenderedDocuments)
		r.Get("/revisions/{id}/diff/{to}", s.getDiff)
		r.Post("/rollback/{id}", s.rollback)

		r.Get("/revisions/{id}/tags", s.listTags)
		r.Delete("/revisions/{id}/tags", s.deleteAllTags)
		r.Put("/revisions/{id}/tags/{tag}", s.createTag)
		r.Get("/revisions/{id}/tags/{tag}", s.getTag)
		r.Delete("/revisions/{id}/tags/{tag}", s.deleteTag)

		r.Get("/revisions/{id}/validations", s.listValidations)
		r.Post("/revisions/{id}/validations/{name}", s.createValidation)
		r.Get("/revisions/{id}/validations/{name}", s.listValidationEntries)
		r.Get("/revisions/{id}/validations/{name}/entries/{entry}", s.getValidationEntry)

		r.Get("/versions", s.getVersions)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) getVersions(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"v1.0": map[string]any{
			"path":   apiPrefix,
			"status": "stable",
		},
	})
}
