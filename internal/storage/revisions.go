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
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/document"
)

const (
	errQueryRevision   = "cannot query revision"
	errDeleteRevisions = "cannot delete revisions"
	errParseCreatedAt  = "cannot parse revision timestamp"
)

// sqliteTime is the layout of CURRENT_TIMESTAMP values.
const sqliteTime = "2006-01-02 15:04:05"

// Diff statuses for buckets.
const (
	DiffCreated    = "created"
	DiffDeleted    = "deleted"
	DiffModified   = "modified"
	DiffUnmodified = "unmodified"
)

// CurrentRevision returns the highest minted revision id, or zero when no
// revision exists.
func (s *Store) CurrentRevision(ctx context.Context) (int64, error) {
	return currentRevision(ctx, s.db)
}

// GetRevision returns one revision's metadata.
func (s *Store) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	return s.getRevision(ctx, s.db, id)
}

func (s *Store) getRevision(ctx context.Context, q querier, id int64) (*Revision, error) {
	var created string
	err := q.QueryRowContext(ctx, `SELECT created_at FROM revisions WHERE id = ?`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}
	at, err := time.Parse(sqliteTime, created)
	if err != nil {
		return nil, errors.Wrap(err, errParseCreatedAt)
	}

	rev := &Revision{ID: id, CreatedAt: at.UTC()}

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT b.name FROM documents d JOIN buckets b ON b.id = d.bucket_id
		WHERE d.revision_id = ? AND d.deleted = 0 ORDER BY b.name`, id)
	if err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, errors.Wrap(err, errQueryRevision)
		}
		rev.Buckets = append(rev.Buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}

	tags, err := q.QueryContext(ctx, `SELECT name FROM revision_tags WHERE revision_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}
	defer tags.Close() //nolint:errcheck // Read-only cursor.
	for tags.Next() {
		var t string
		if err := tags.Scan(&t); err != nil {
			return nil, errors.Wrap(err, errQueryRevision)
		}
		rev.Tags = append(rev.Tags, t)
	}
	return rev, errors.Wrap(tags.Err(), errQueryRevision)
}

// GetRevisions lists every revision in ascending id order.
func (s *Store) GetRevisions(ctx context.Context) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM revisions ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errQueryRevision)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errQueryRevision)
	}

	out := make([]Revision, 0, len(ids))
	for _, id := range ids {
		rev, err := s.getRevision(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rev)
	}
	return out, nil
}

// A Record pairs a live document with its storage attributes: the bucket
// that owns it and the revision in which this exact content first appeared.
type Record struct {
	Document document.Document
	Bucket   string
	Revision int64
}

// GetRevisionRecords returns the live documents of a revision with their
// storage attributes, filtered, in deterministic (schema, name) order.
func (s *Store) GetRevisionRecords(ctx context.Context, id int64, f document.Filter) ([]Record, error) {
	ok, err := revisionExists(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !ok || id == 0 {
		return nil, notFound(id)
	}

	snap, err := snapshot(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	rows := make([]row, 0, len(snap))
	for _, r := range live(snap) {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].meta.Schema != rows[j].meta.Schema {
			return rows[i].meta.Schema < rows[j].meta.Schema
		}
		return rows[i].meta.Name < rows[j].meta.Name
	})

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if f.Matches(r.document, r.bucket) {
			out = append(out, Record{Document: r.document, Bucket: r.bucket, Revision: r.origRev})
		}
	}
	return out, nil
}

// GetRevisionDocuments returns the live documents of a revision, filtered,
// in deterministic (schema, name) order.
func (s *Store) GetRevisionDocuments(ctx context.Context, id int64, f document.Filter) ([]document.Document, error) {
	records, err := s.GetRevisionRecords(ctx, id, f)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, 0, len(records))
	for _, r := range records {
		out = append(out, r.Document)
	}
	return out, nil
}

// DeleteAllRevisions irrevocably drops every revision, document, tag and
// validation record.
func (s *Store) DeleteAllRevisions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errBeginTx)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	for _, stmt := range []string{
		`DELETE FROM documents`,
		`DELETE FROM revision_tags`,
		`DELETE FROM validations`,
		`DELETE FROM revisions`,
		`DELETE FROM buckets`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errDeleteRevisions)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errCommitTx)
	}
	s.rendered.Purge()
	s.log.Debug("Deleted all revisions")
	return nil
}

// Diff compares what two revisions see per bucket. Every bucket present in
// either revision appears in the result with one of the Diff statuses.
// Revision zero stands for the empty state and is always addressable.
func (s *Store) Diff(ctx context.Context, a, b int64) (map[string]string, error) {
	for _, id := range []int64{a, b} {
		ok, err := revisionExists(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound(id)
		}
	}

	snapA, err := snapshot(ctx, s.db, a)
	if err != nil {
		return nil, err
	}
	snapB, err := snapshot(ctx, s.db, b)
	if err != nil {
		return nil, err
	}

	type contents map[document.Meta]string
	group := func(snap map[document.Meta]row) map[string]contents {
		out := map[string]contents{}
		for m, r := range live(snap) {
			if out[r.bucket] == nil {
				out[r.bucket] = contents{}
			}
			out[r.bucket][m] = r.print
		}
		return out
	}
	was, now := group(snapA), group(snapB)

	diff := map[string]string{}
	for bucket, docs := range now {
		prev, ok := was[bucket]
		switch {
		case !ok:
			diff[bucket] = DiffCreated
		case sameContents(prev, docs):
			diff[bucket] = DiffUnmodified
		default:
			diff[bucket] = DiffModified
		}
	}
	for bucket := range was {
		if _, ok := now[bucket]; !ok {
			diff[bucket] = DiffDeleted
		}
	}
	return diff, nil
}

func sameContents(a, b map[document.Meta]string) bool {
	if len(a) != len(b) {
		return false
	}
	for m, print := range a {
		if b[m] != print {
			return false
		}
	}
	return true
}

// Rollback materializes the target revision's live documents as a new
// revision, preserving each document's originating revision id. Rolling
// back to a state identical to the current one returns the current
// revision without minting a new one.
func (s *Store) Rollback(ctx context.Context, id int64) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errBeginTx)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	ok, err := revisionExists(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(id)
	}

	cur, err := currentRevision(ctx, tx)
	if err != nil {
		return nil, err
	}
	target, err := snapshot(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	current, err := snapshot(ctx, tx, cur)
	if err != nil {
		return nil, err
	}

	if samePrints(live(target), live(current)) {
		_ = tx.Rollback()
		s.log.Debug("Rollback target matches current state", "target", id, "revision", cur)
		rev, _, err := s.revision(ctx, cur)
		return rev, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO revisions DEFAULT VALUES`)
	if err != nil {
		return nil, errors.Wrap(err, errMintRevision)
	}
	rev, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, errMintRevision)
	}

	for _, r := range live(target) {
		if err := insertRow(ctx, tx, rev, r); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errCommitTx)
	}
	s.rendered.Purge()
	s.log.Debug("Rolled back", "target", id, "revision", rev)

	out, _, err := s.revision(ctx, rev)
	return out, err
}

func samePrints(a, b map[document.Meta]row) bool {
	if len(a) != len(b) {
		return false
	}
	for m, r := range a {
		other, ok := b[m]
		if !ok || other.print != r.print || other.bucket != r.bucket {
			return false
		}
	}
	return true
}

// A RenderFunc renders a revision's raw documents.
type RenderFunc func(ctx context.Context, docs []document.Document) ([]document.Document, error)

// Rendered returns the rendered documents of a revision, consulting the LRU
// cache first. A revision's rendered output is immutable, so cached entries
// never go stale; the cache is purged wholesale when the revision history
// changes shape.
func (s *Store) Rendered(ctx context.Context, id int64, render RenderFunc) ([]document.Document, error) {
	if docs, ok := s.rendered.Get(id); ok {
		return docs, nil
	}

	raw, err := s.GetRevisionDocuments(ctx, id, document.Filter{})
	if err != nil {
		return nil, err
	}
	docs, err := render(ctx, raw)
	if err != nil {
		return nil, err
	}
	s.rendered.Add(id, docs)
	return docs, nil
}
