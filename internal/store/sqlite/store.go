// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package sqlite implements store.Store on a single SQLite database.
package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warden-dev/warden/internal/store"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", func(path string) (store.Store, error) {
		return New(path)
	})
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the SQLite-backed persistence layer for rules and incidents.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initialises the
// rules and incidents tables.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "opening moderation db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "pinging moderation db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "migrating moderation db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rules (
	id                TEXT PRIMARY KEY,
	description       TEXT NOT NULL,
	action            TEXT NOT NULL,
	duration_seconds  INTEGER NOT NULL DEFAULT 0,
	chat_id           TEXT NOT NULL DEFAULT '',
	stage             TEXT NOT NULL,
	kind              TEXT NOT NULL,
	pattern           TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	severity          INTEGER NOT NULL,
	suppresses_global INTEGER NOT NULL DEFAULT 0,
	origin            TEXT NOT NULL DEFAULT 'admin',
	created_at        TEXT NOT NULL,
	metadata          TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_rules_chat  ON rules(chat_id);
CREATE INDEX IF NOT EXISTS idx_rules_stage ON rules(stage);

CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	rule_id     TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	severity    INTEGER NOT NULL DEFAULT 0,
	chat_id     TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	occurred_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_chat ON incidents(chat_id);
CREATE INDEX IF NOT EXISTS idx_incidents_time ON incidents(occurred_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
