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
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/airshipit/deckhand/internal/xerrors"
)

const contentTypeYAML = "application/x-yaml"

const errEncodeResponse = "cannot encode response body"

// respond writes v as a YAML response body.
func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	b, err := yaml.Marshal(v)
	if err != nil {
		s.log.Info("Cannot marshal response", "error", err)
		http.Error(w, errEncodeResponse, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeYAML)
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

// fail writes err as a YAML status envelope, mapping engine error kinds to
// HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	list := &xerrors.List{}

	var el *xerrors.List
	if errors.As(err, &el) {
		list = el
	} else if e, ok := xerrors.As(err); ok {
		list.Append(e)
	}

	if list.Empty() {
		s.log.Info("Internal error", "error", err)
		s.envelope(w, http.StatusInternalServerError, "InternalServerError", false, []map[string]any{
			{"message": "an internal error occurred", "error": true},
		})
		return
	}

	msgs := make([]map[string]any, 0, len(list.Errors()))
	for _, e := range list.Errors() {
		m := map[string]any{
			"message": e.Message,
			"kind":    string(e.Kind),
			"error":   true,
		}
		if e.Schema != "" || e.Name != "" {
			m["documentSchema"] = e.Schema
			m["documentName"] = e.Name
		}
		msgs = append(msgs, m)
	}
	s.envelope(w, list.HTTPStatus(), string(list.Errors()[0].Kind), list.Retryable(), msgs)
}

func (s *Server) envelope(w http.ResponseWriter, code int, reason string, retry bool, msgs []map[string]any) {
	s.respond(w, code, map[string]any{
		"status":     "Failure",
		"kind":       "status",
		"apiVersion": "v1.0",
		"code":       fmt.Sprintf("%d %s", code, http.StatusText(code)),
		"reason":     reason,
		"retry":      retry,
		"metadata":   map[string]any{},
		"message":    http.StatusText(code),
		"details": map[string]any{
			"errorType":   reason,
			"errorCount":  len(msgs),
			"messageList": msgs,
		},
	})
}
