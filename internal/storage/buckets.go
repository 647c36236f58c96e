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

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/secrets"
	"github.com/airshipit/deckhand/internal/xerrors"
)

const errOffloadPayload = "cannot encode secret payload"

// CreateBucketDocuments replaces the supplied bucket's contribution with the
// supplied documents. A new revision is minted only when the write creates,
// changes or deletes at least one document; an identical write returns the
// current revision unchanged. The returned documents are the created and
// modified rows, in input order, as persisted (encrypted payloads replaced
// by secret references).
func (s *Store) CreateBucketDocuments(ctx context.Context, bucket string, docs []document.Document) (*Revision, []document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[document.Meta]bool{}
	for _, d := range docs {
		if seen[d.Meta()] {
			return nil, nil, xerrors.New(xerrors.KindConflict, d.Schema(), d.Name(), "document appears more than once in bucket %q", bucket)
		}
		seen[d.Meta()] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, errBeginTx)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	cur, err := currentRevision(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	snap, err := snapshot(ctx, tx, cur)
	if err != nil {
		return nil, nil, err
	}
	state := live(snap)

	// A (schema, name) pair lives in at most one bucket at a time.
	for _, d := range docs {
		if prev, ok := state[d.Meta()]; ok && prev.bucket != bucket {
			return nil, nil, xerrors.New(xerrors.KindConflict, d.Schema(), d.Name(), "document already owned by bucket %q", prev.bucket)
		}
	}

	type incoming struct {
		doc   document.Document
		print string
	}
	in := make([]incoming, 0, len(docs))
	changed := false
	for _, d := range docs {
		_, fp, err := encode(d)
		if err != nil {
			return nil, nil, err
		}
		in = append(in, incoming{doc: d, print: fp})
		if prev, ok := state[d.Meta()]; !ok || prev.print != fp {
			changed = true
		}
	}
	deletions := make([]document.Meta, 0)
	for m, r := range state {
		if r.bucket == bucket && !seen[m] {
			deletions = append(deletions, m)
			changed = true
		}
	}

	if !changed {
		// Release the transaction's connection before reading back.
		_ = tx.Rollback()
		s.log.Debug("Bucket write changed nothing", "bucket", bucket, "revision", cur)
		return s.revision(ctx, cur)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO revisions DEFAULT VALUES`)
	if err != nil {
		return nil, nil, errors.Wrap(err, errMintRevision)
	}
	rev, err := res.LastInsertId()
	if err != nil {
		return nil, nil, errors.Wrap(err, errMintRevision)
	}

	// Rows outside this bucket carry forward untouched.
	for _, r := range state {
		if r.bucket == bucket {
			continue
		}
		if err := insertRow(ctx, tx, rev, r); err != nil {
			return nil, nil, err
		}
	}

	written := make([]document.Document, 0, len(in))
	for _, inc := range in {
		if prev, ok := state[inc.doc.Meta()]; ok && prev.print == inc.print {
			if err := insertRow(ctx, tx, rev, prev); err != nil {
				return nil, nil, err
			}
			continue
		}
		d, oerr := s.offload(ctx, inc.doc)
		if oerr != nil {
			return nil, nil, oerr
		}
		body, _, err := encode(d)
		if err != nil {
			return nil, nil, err
		}
		r := row{meta: d.Meta(), bucket: bucket, origRev: rev, body: body, print: inc.print}
		if err := insertRow(ctx, tx, rev, r); err != nil {
			return nil, nil, err
		}
		written = append(written, d)
	}

	for _, m := range deletions {
		r := row{meta: m, bucket: bucket, origRev: rev, body: "{}", deleted: true}
		if err := insertRow(ctx, tx, rev, r); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, errCommitTx)
	}
	s.rendered.Purge()
	s.log.Debug("Created revision", "bucket", bucket, "revision", rev, "written", len(written), "deleted", len(deletions))

	out, _, err := s.revision(ctx, rev)
	return out, written, err
}

// offload replaces the payload of an encrypted document with a secret store
// reference. Documents whose data is already a reference pass through.
func (s *Store) offload(ctx context.Context, d document.Document) (document.Document, error) {
	if !d.IsEncrypted() {
		return d, nil
	}
	if str, ok := d.Data().(string); ok && secrets.IsReference(str) {
		return d, nil
	}
	if s.secrets == nil {
		return d, xerrors.New(xerrors.KindSecretStoreError, d.Schema(), d.Name(), "no secret store configured for encrypted document")
	}

	payload, ok := d.Data().(string)
	if !ok {
		b, err := json.Marshal(d.Data())
		if err != nil {
			return d, errors.Wrap(err, errOffloadPayload)
		}
		payload = string(b)
	}

	ref, err := s.secrets.Create(ctx, d.Name(), secrets.KindForSchema(d.Schema()), payload)
	if err != nil {
		return d, xerrors.New(xerrors.KindSecretStoreError, d.Schema(), d.Name(), "cannot store secret payload: %v", err)
	}
	return d.WithData(ref), nil
}

// revision assembles the Revision value for an existing revision id, shaped
// for CreateBucketDocuments' return.
func (s *Store) revision(ctx context.Context, id int64) (*Revision, []document.Document, error) {
	if id == 0 {
		return &Revision{}, nil, nil
	}
	rev, err := s.getRevision(ctx, s.db, id)
	return rev, nil, err
}
