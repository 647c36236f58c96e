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

// Package fake contains a mock secret store.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/airshipit/deckhand/internal/secrets"
)

var _ secrets.Store = &MockStore{}

// MockStore is a mock secret store.
type MockStore struct {
	MockCreate func(ctx context.Context, name, kind, payload string) (string, error)
	MockGet    func(ctx context.Context, ref string) (string, error)
	MockDelete func(ctx context.Context, ref string) error
}

// Create calls the underlying MockCreate.
func (s *MockStore) Create(ctx context.Context, name, kind, payload string) (string, error) {
	return s.MockCreate(ctx, name, kind, payload)
}

// Get calls the underlying MockGet.
func (s *MockStore) Get(ctx context.Context, ref string) (string, error) {
	return s.MockGet(ctx, ref)
}

// Delete calls the underlying MockDelete.
func (s *MockStore) Delete(ctx context.Context, ref string) error {
	return s.MockDelete(ctx, ref)
}

var _ secrets.Store = &MemStore{}

// A MemStore is an in-memory secret store issuing references shaped like real
// ones.
type MemStore struct {
	mu       sync.Mutex
	payloads map[string]string
}

// NewMemStore returns an empty in-memory secret store.
func NewMemStore() *MemStore {
	return &MemStore{payloads: map[string]string{}}
}

// Create stores a payload under a generated reference.
func (s *MemStore) Create(_ context.Context, _, _, payload string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("https://secrets.invalid/v1/secrets/%s", uuid.New())
	s.payloads[ref] = payload
	return ref, nil
}

// Get resolves a reference created by Create.
func (s *MemStore) Get(_ context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.payloads[ref]
	if !ok {
		return "", fmt.Errorf("unknown secret reference %q", ref)
	}
	return payload, nil
}

// Delete removes a stored payload.
func (s *MemStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, ref)
	return nil
}

// Len reports how many payloads the store holds.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}
