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

// Package storage persists documents as an append-only sequence of
// revisions. Every revision is a full materialized snapshot: writes are
// bucket-scoped, mint a new revision only when the write actually changes
// something, and copy unchanged rows forward with their originating
// revision id intact. Deletions leave tombstone rows in the revision where
// they occurred.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/secrets"
	"github.com/airshipit/deckhand/internal/xerrors"
)

const (
	errOpenDatabase   = "cannot open database"
	errInitSchema     = "cannot initialize database schema"
	errBeginTx        = "cannot begin transaction"
	errCommitTx       = "cannot commit transaction"
	errEncodeDocument = "cannot encode document"
	errDecodeDocument = "cannot decode stored document"
	errQuerySnapshot  = "cannot query revision snapshot"
	errInsertDocument = "cannot insert document row"
	errMintRevision   = "cannot create revision row"
)

// renderedCacheSize bounds the number of revisions whose rendered output is
// kept in memory.
const renderedCacheSize = 32

// A Store is a sqlite-backed revision store. It is safe for concurrent use;
// writes are serialized so that concurrent bucket PUTs observe each other's
// revisions.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	secrets secrets.Store
	log     logging.Logger

	rendered *lru.Cache[int64, []document.Document]
}

// An Option configures a Store.
type Option func(*Store)

// WithLogger configures how a Store logs.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSecrets configures the secret store used to offload the payloads of
// encrypted documents before they are persisted. Without one, writing an
// encrypted document fails.
func WithSecrets(ss secrets.Store) Option {
	return func(s *Store) { s.secrets = ss }
}

// New opens (and if necessary bootstraps) a Store at the supplied sqlite
// DSN. Use ":memory:" for an ephemeral store.
func New(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errOpenDatabase)
	}
	// The modernc driver serializes at the connection level; a single
	// connection avoids table-lock errors under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: logging.NewNopLogger()}
	for _, o := range opts {
		o(s)
	}

	s.rendered, _ = lru.New[int64, []document.Document](renderedCacheSize)

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errInitSchema)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS buckets (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS revisions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS documents (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		revision_id      INTEGER NOT NULL REFERENCES revisions(id) ON DELETE CASCADE,
		orig_revision_id INTEGER NOT NULL,
		bucket_id        INTEGER NOT NULL REFERENCES buckets(id),
		schema           TEXT NOT NULL,
		name             TEXT NOT NULL,
		body             TEXT NOT NULL,
		fingerprint      TEXT NOT NULL,
		deleted          INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(revision_id, schema, name)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_revision ON documents(revision_id);
	CREATE TABLE IF NOT EXISTS revision_tags (
		revision_id INTEGER NOT NULL REFERENCES revisions(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		body        TEXT NOT NULL DEFAULT '{}',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(revision_id, name)
	);
	CREATE TABLE IF NOT EXISTS validations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		revision_id INTEGER NOT NULL REFERENCES revisions(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		status      TEXT NOT NULL,
		body        TEXT NOT NULL DEFAULT '{}',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_validations_revision ON validations(revision_id, name);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// A Revision describes one immutable snapshot.
type Revision struct {
	ID        int64
	CreatedAt time.Time
	Buckets   []string
	Tags      []string
}

// A row is one persisted document with its storage attributes.
type row struct {
	meta     document.Meta
	bucket   string
	origRev  int64
	body     string
	print    string
	deleted  bool
	document document.Document
}

// encode serializes a document to its storage form and content fingerprint.
// The fingerprint is computed before any secret offload so that re-writing
// the same encrypted payload is recognized as unchanged.
func encode(d document.Document) (body, fingerprint string, err error) {
	b, err := json.Marshal(d.Object())
	if err != nil {
		return "", "", errors.Wrap(err, errEncodeDocument)
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}

func decode(body string) (document.Document, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return document.Document{}, errors.Wrap(err, errDecodeDocument)
	}
	return document.New(obj), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// currentRevision returns the highest minted revision id, or zero when no
// revision exists.
func currentRevision(ctx context.Context, q querier) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM revisions`).Scan(&id)
	return id, errors.Wrap(err, errQuerySnapshot)
}

// revisionExists reports whether the supplied id identifies a minted
// revision. Revision zero always exists; it is the empty state.
func revisionExists(ctx context.Context, q querier, id int64) (bool, error) {
	if id == 0 {
		return true, nil
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions WHERE id = ?`, id).Scan(&n)
	return n > 0, errors.Wrap(err, errQuerySnapshot)
}

// snapshot loads every row of a revision, tombstones included. Revision
// zero yields an empty snapshot.
func snapshot(ctx context.Context, q querier, rev int64) (map[document.Meta]row, error) {
	out := map[document.Meta]row{}
	if rev == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT d.schema, d.name, b.name, d.orig_revision_id, d.body, d.fingerprint, d.deleted
		FROM documents d JOIN buckets b ON b.id = d.bucket_id
		WHERE d.revision_id = ?`, rev)
	if err != nil {
		return nil, errors.Wrap(err, errQuerySnapshot)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	for rows.Next() {
		var r row
		var deleted int
		if err := rows.Scan(&r.meta.Schema, &r.meta.Name, &r.bucket, &r.origRev, &r.body, &r.print, &deleted); err != nil {
			return nil, errors.Wrap(err, errQuerySnapshot)
		}
		r.deleted = deleted != 0
		if !r.deleted {
			d, err := decode(r.body)
			if err != nil {
				return nil, err
			}
			r.document = d
		}
		out[r.meta] = r
	}
	return out, errors.Wrap(rows.Err(), errQuerySnapshot)
}

// live filters a snapshot down to its non-tombstone rows.
func live(snap map[document.Meta]row) map[document.Meta]row {
	out := make(map[document.Meta]row, len(snap))
	for m, r := range snap {
		if !r.deleted {
			out[m] = r
		}
	}
	return out
}

func bucketID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO buckets (name) VALUES (?)`, name); err != nil {
		return 0, errors.Wrap(err, errInsertDocument)
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM buckets WHERE name = ?`, name).Scan(&id)
	return id, errors.Wrap(err, errInsertDocument)
}

func insertRow(ctx context.Context, tx *sql.Tx, rev int64, r row) error {
	bid, err := bucketID(ctx, tx, r.bucket)
	if err != nil {
		return err
	}
	deleted := 0
	if r.deleted {
		deleted = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (revision_id, orig_revision_id, bucket_id, schema, name, body, fingerprint, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rev, r.origRev, bid, r.meta.Schema, r.meta.Name, r.body, r.print, deleted)
	return errors.Wrap(err, errInsertDocument)
}

// notFound builds the canonical revision-not-found error.
func notFound(id int64) *xerrors.Error {
	return xerrors.New(xerrors.KindRevisionNotFound, "", "", "revision %d does not exist", id)
}
