// Package serverdb is the sqlite store behind the dcap server. The locks
// table's primary key on document_id is the authority for mutual exclusion;
// everything the lock protocol guarantees reduces to that constraint.
package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("not found")

const serverSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	metadata   JSON NOT NULL DEFAULT '{}',
	validated  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	body        TEXT NOT NULL,
	author_id   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_document ON comments(document_id);

CREATE TABLE IF NOT EXISTS document_locks (
	document_id       TEXT PRIMARY KEY,
	holder_session_id TEXT NOT NULL,
	holder_user_id    TEXT NOT NULL,
	acquired_at       TEXT NOT NULL,
	expires_at        TEXT NOT NULL
);
`

// ServerDB wraps the server database connection.
type ServerDB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens the server database, creating file and schema if needed.
func Open(dbPath string) (*ServerDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(serverSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &ServerDB{conn: conn, path: dbPath, now: time.Now}, nil
}

// Ping checks the database connection is alive.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

const timeLayout = time.RFC3339Nano

func (db *ServerDB) timestamp() string {
	return db.now().UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
