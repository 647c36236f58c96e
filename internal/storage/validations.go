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

package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/xerrors"
)

const (
	errEncodeValidation = "cannot encode validation data"
	errDecodeValidation = "cannot decode stored validation data"
	errQueryValidation  = "cannot query validations"
	errWriteValidation  = "cannot write validation entry"
)

// Validation result statuses.
const (
	ValidationSuccess = "success"
	ValidationFailure = "failure"
)

// A ValidationEntry is one externally submitted validation result for a
// revision. Entries under the same name accumulate; the entry id is the
// zero-based position within the name.
type ValidationEntry struct {
	ID     int
	Name   string
	Status string
	Data   map[string]any
}

// A ValidationSummary aggregates the entries submitted under one name. The
// summary status is failure if any entry failed.
type ValidationSummary struct {
	Name   string
	Status string
}

// CreateValidation records an external validation result against a
// revision. The entry's status is read from data's "status" key and must be
// success or failure.
func (s *Store) CreateValidation(ctx context.Context, rev int64, name string, data map[string]any) (*ValidationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	status, _ := data["status"].(string)
	if status != ValidationSuccess && status != ValidationFailure {
		return nil, xerrors.New(xerrors.KindDataInvalid, "", name, "validation status must be %q or %q", ValidationSuccess, ValidationFailure)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errEncodeValidation)
	}

	var id int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM validations WHERE revision_id = ? AND name = ?`, rev, name).Scan(&id); err != nil {
		return nil, errors.Wrap(err, errQueryValidation)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO validations (revision_id, name, status, body) VALUES (?, ?, ?, ?)`,
		rev, name, status, string(body)); err != nil {
		return nil, errors.Wrap(err, errWriteValidation)
	}
	return &ValidationEntry{ID: id, Name: name, Status: status, Data: data}, nil
}

// ListValidations summarizes a revision's validations by name.
func (s *Store) ListValidations(ctx context.Context, rev int64) ([]ValidationSummary, error) {
	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, MIN(CASE status WHEN ? THEN 1 ELSE 0 END)
		FROM validations WHERE revision_id = ? GROUP BY name ORDER BY name`,
		ValidationSuccess, rev)
	if err != nil {
		return nil, errors.Wrap(err, errQueryValidation)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	out := []ValidationSummary{}
	for rows.Next() {
		var v ValidationSummary
		var allSuccess int
		if err := rows.Scan(&v.Name, &allSuccess); err != nil {
			return nil, errors.Wrap(err, errQueryValidation)
		}
		v.Status = ValidationFailure
		if allSuccess == 1 {
			v.Status = ValidationSuccess
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), errQueryValidation)
}

// ListValidationEntries returns every entry submitted under one name, in
// submission order.
func (s *Store) ListValidationEntries(ctx context.Context, rev int64, name string) ([]ValidationEntry, error) {
	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, body FROM validations WHERE revision_id = ? AND name = ? ORDER BY id`, rev, name)
	if err != nil {
		return nil, errors.Wrap(err, errQueryValidation)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	out := []ValidationEntry{}
	for rows.Next() {
		e := ValidationEntry{ID: len(out), Name: name}
		var body string
		if err := rows.Scan(&e.Status, &body); err != nil {
			return nil, errors.Wrap(err, errQueryValidation)
		}
		if err := json.Unmarshal([]byte(body), &e.Data); err != nil {
			return nil, errors.Wrap(err, errDecodeValidation)
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), errQueryValidation)
}

// GetValidationEntry returns one entry by its zero-based position under a
// name.
func (s *Store) GetValidationEntry(ctx context.Context, rev int64, name string, entry int) (*ValidationEntry, error) {
	entries, err := s.ListValidationEntries(ctx, rev, name)
	if err != nil {
		return nil, err
	}
	if entry < 0 || entry >= len(entries) {
		return nil, xerrors.New(xerrors.KindRevisionNotFound, "", name, "validation entry %d not found on revision %d", entry, rev)
	}
	return &entries[entry], nil
}
