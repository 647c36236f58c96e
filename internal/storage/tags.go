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
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/xerrors"
)

const (
	errEncodeTag = "cannot encode tag data"
	errDecodeTag = "cannot decode stored tag data"
	errQueryTag  = "cannot query revision tags"
	errWriteTag  = "cannot write revision tag"
)

// A Tag is a mutable label attached to a revision, with optional
// structured data.
type Tag struct {
	Name string
	Data map[string]any
}

// CreateTag attaches a tag to a revision, replacing any previous tag of the
// same name.
func (s *Store) CreateTag(ctx context.Context, rev int64, name string, data map[string]any) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errEncodeTag)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO revision_tags (revision_id, name, body) VALUES (?, ?, ?)
		ON CONFLICT(revision_id, name) DO UPDATE SET body = excluded.body`,
		rev, name, string(body))
	if err != nil {
		return nil, errors.Wrap(err, errWriteTag)
	}
	return &Tag{Name: name, Data: data}, nil
}

// GetTag returns one tag of a revision.
func (s *Store) GetTag(ctx context.Context, rev int64, name string) (*Tag, error) {
	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM revision_tags WHERE revision_id = ? AND name = ?`, rev, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.KindRevisionNotFound, "", "", "tag %q not found on revision %d", name, rev)
	}
	if err != nil {
		return nil, errors.Wrap(err, errQueryTag)
	}
	t := &Tag{Name: name}
	if err := json.Unmarshal([]byte(body), &t.Data); err != nil {
		return nil, errors.Wrap(err, errDecodeTag)
	}
	return t, nil
}

// ListTags returns a revision's tags in name order.
func (s *Store) ListTags(ctx context.Context, rev int64) ([]Tag, error) {
	if err := s.mustExist(ctx, rev); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, body FROM revision_tags WHERE revision_id = ? ORDER BY name`, rev)
	if err != nil {
		return nil, errors.Wrap(err, errQueryTag)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	out := []Tag{}
	for rows.Next() {
		var t Tag
		var body string
		if err := rows.Scan(&t.Name, &body); err != nil {
			return nil, errors.Wrap(err, errQueryTag)
		}
		if err := json.Unmarshal([]byte(body), &t.Data); err != nil {
			return nil, errors.Wrap(err, errDecodeTag)
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), errQueryTag)
}

// DeleteTag removes one tag from a revision.
func (s *Store) DeleteTag(ctx context.Context, rev int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mustExist(ctx, rev); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM revision_tags WHERE revision_id = ? AND name = ?`, rev, name)
	if err != nil {
		return errors.Wrap(err, errWriteTag)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerrors.New(xerrors.KindRevisionNotFound, "", "", "tag %q not found on revision %d", name, rev)
	}
	return nil
}

// DeleteAllTags removes every tag from a revision.
func (s *Store) DeleteAllTags(ctx context.Context, rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mustExist(ctx, rev); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM revision_tags WHERE revision_id = ?`, rev)
	return errors.Wrap(err, errWriteTag)
}

func (s *Store) mustExist(ctx context.Context, rev int64) error {
	ok, err := revisionExists(ctx, s.db, rev)
	if err != nil {
		return err
	}
	if !ok || rev == 0 {
		return notFound(rev)
	}
	return nil
}
