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

package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"
)

const (
	errCreateSecret    = "cannot create secret"
	errGetSecret       = "cannot get secret payload"
	errDeleteSecret    = "cannot delete secret"
	errDecodeSecret    = "cannot decode secret store response"
	errMissingRef      = "secret store response carries no secret_ref"
	errFmtStatus       = "secret store returned status %d"
	errNotOurReference = "reference does not belong to this secret store"

	defaultTimeout = 10 * time.Second
)

// A Barbican talks to a Barbican-compatible secret store over its v1 REST
// API.
type Barbican struct {
	client   *http.Client
	endpoint string
	token    string
	log      logging.Logger
}

// A BarbicanOption configures a Barbican client.
type BarbicanOption func(*Barbican)

// WithHTTPClient configures the HTTP client used to reach the store.
func WithHTTPClient(c *http.Client) BarbicanOption {
	return func(b *Barbican) { b.client = c }
}

// WithToken configures the auth token passed through to the store.
func WithToken(token string) BarbicanOption {
	return func(b *Barbican) { b.token = token }
}

// WithLogger configures how a Barbican client logs.
func WithLogger(l logging.Logger) BarbicanOption {
	return func(b *Barbican) { b.log = l }
}

// NewBarbican returns a client for the store rooted at the supplied v1
// endpoint, e.g. "https://barbican.example.org/v1".
func NewBarbican(endpoint string, opts ...BarbicanOption) *Barbican {
	b := &Barbican{
		client:   &http.Client{Timeout: defaultTimeout},
		endpoint: strings.TrimRight(endpoint, "/"),
		log:      logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Create stores a payload and returns the secret reference URL.
func (b *Barbican) Create(ctx context.Context, name, kind, payload string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"name":                 name,
		"secret_type":          kind,
		"payload":              payload,
		"payload_content_type": "text/plain",
	})
	if err != nil {
		return "", errors.Wrap(err, errCreateSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/secrets", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, errCreateSecret)
	}
	req.Header.Set("Content-Type", "application/json")
	b.auth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errCreateSecret)
	}
	defer resp.Body.Close() //nolint:errcheck // Nothing useful to do with this error.

	if resp.StatusCode != http.StatusCreated {
		return "", errors.Wrap(errors.Errorf(errFmtStatus, resp.StatusCode), errCreateSecret)
	}

	var out struct {
		SecretRef string `json:"secret_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, errDecodeSecret)
	}
	if out.SecretRef == "" {
		return "", errors.New(errMissingRef)
	}
	b.log.Debug("Stored secret payload", "name", name, "kind", kind)
	return out.SecretRef, nil
}

// Get resolves a secret reference to its payload.
func (b *Barbican) Get(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return "", errors.Wrap(errors.New(errNotOurReference), errGetSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(ref, "/")+"/payload", nil)
	if err != nil {
		return "", errors.Wrap(err, errGetSecret)
	}
	req.Header.Set("Accept", "text/plain")
	b.auth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errGetSecret)
	}
	defer resp.Body.Close() //nolint:errcheck // Nothing useful to do with this error.

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrap(errors.Errorf(errFmtStatus, resp.StatusCode), errGetSecret)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, errGetSecret)
	}
	return string(payload), nil
}

// Delete removes a stored secret. Unknown references delete cleanly.
func (b *Barbican) Delete(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ref, nil)
	if err != nil {
		return errors.Wrap(err, errDeleteSecret)
	}
	b.auth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errDeleteSecret)
	}
	defer resp.Body.Close() //nolint:errcheck // Nothing useful to do with this error.

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return errors.Wrap(errors.Errorf(errFmtStatus, resp.StatusCode), errDeleteSecret)
	}
	return nil
}

func (b *Barbican) auth(req *http.Request) {
	if b.token != "" {
		req.Header.Set("X-Auth-Token", b.token)
	}
}
