/*
Copyright 2025 Pulse Technologies, Inc.

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

package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    store_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    hash TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    parents TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (store_id, version)
);
CREATE TABLE IF NOT EXISTS blobs (
    hash TEXT PRIMARY KEY,
    data BLOB NOT NULL
);
`

// SQLite is a sqlite-backed Store: a metadata table keyed by
// (store_id, version) plus a content-addressed blob table.
type SQLite struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLite opens (creating if needed) a snapshot database at path.
// Pass ":memory:" for an ephemeral store.
func NewSQLite(path string, clock clockwork.Clock) (*SQLite, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// version assignment relies on a single writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &SQLite{db: db, clock: clock}, nil
}

// Put implements Store. The blob insert and the metadata insert commit
// as one transaction, and the version is assigned inside it so
// concurrent writers to the same store id get distinct versions.
func (s *SQLite) Put(ctx context.Context, storeID string, payload []byte, opts PutOptions) (*Metadata, error) {
	if storeID == "" {
		return nil, trace.BadParameter("missing parameter storeID")
	}
	hash := HashPayload(payload)
	tags, err := json.Marshal(opts.Tags)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	parents, err := json.Marshal(opts.Parents)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	createdAt := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE store_id = ?`, storeID).
		Scan(&version); err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blobs (hash, data) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING`,
		hash, payload); err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (store_id, version, created_at, hash, tags, parents) VALUES (?, ?, ?, ?, ?, ?)`,
		storeID, version, createdAt.Unix(), hash, string(tags), string(parents)); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Metadata{
		StoreID:   storeID,
		Version:   version,
		CreatedAt: createdAt,
		Hash:      hash,
		Tags:      opts.Tags,
		Parents:   opts.Parents,
	}, nil
}

func (s *SQLite) get(ctx context.Context, query string, args ...any) (*Metadata, []byte, error) {
	var meta Metadata
	var createdAt int64
	var tags, parents string
	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&meta.StoreID, &meta.Version, &createdAt, &meta.Hash, &tags, &parents, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, trace.NotFound("snapshot is not found")
		}
		return nil, nil, trace.Wrap(err)
	}
	meta.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(tags), &meta.Tags); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := json.Unmarshal([]byte(parents), &meta.Parents); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return &meta, data, nil
}

const getColumns = `s.store_id, s.version, s.created_at, s.hash, s.tags, s.parents, b.data`

// GetLatest implements Store.
func (s *SQLite) GetLatest(ctx context.Context, storeID string) (*Metadata, []byte, error) {
	meta, data, err := s.get(ctx, `
SELECT `+getColumns+` FROM snapshots s JOIN blobs b ON s.hash = b.hash
WHERE s.store_id = ? ORDER BY s.version DESC LIMIT 1`, storeID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, trace.NotFound("no snapshots under %q", storeID)
		}
		return nil, nil, trace.Wrap(err)
	}
	return meta, data, nil
}

// GetVersion implements Store.
func (s *SQLite) GetVersion(ctx context.Context, storeID string, version int64) (*Metadata, []byte, error) {
	meta, data, err := s.get(ctx, `
SELECT `+getColumns+` FROM snapshots s JOIN blobs b ON s.hash = b.hash
WHERE s.store_id = ? AND s.version = ?`, storeID, version)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, trace.NotFound("snapshot %q version %v is not found", storeID, version)
		}
		return nil, nil, trace.Wrap(err)
	}
	return meta, data, nil
}

// Close implements Store.
func (s *SQLite) Close() error { return trace.Wrap(s.db.Close()) }
