// Package queue is the durable offline action queue: an ordered, client-local
// list of pending mutations, persisted in sqlite so it survives restarts. The
// queue is the single source of truth for "what the user asked for but may
// not yet be reflected upstream".
package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nadia/dcap/internal/models"
	_ "modernc.org/sqlite"
)

const (
	dbFile = ".dcap/queue.db"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	payload     JSON NOT NULL,
	enqueued_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
`

// Queue wraps the sqlite-backed action queue for one client.
type Queue struct {
	conn    *sql.DB
	baseDir string
}

// Open opens an existing queue database.
func Open(baseDir string) (*Queue, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("queue database not found: run 'dcap init' first")
	}
	return open(baseDir, dbPath)
}

// Initialize creates the queue database, its directory, and the schema.
func Initialize(baseDir string) (*Queue, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return open(baseDir, dbPath)
}

func open(baseDir, dbPath string) (*Queue, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	// WAL allows concurrent reads while writes are serialized.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Busy timeout as fallback protection; matches the file lock timeout.
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Queue{conn: conn, baseDir: baseDir}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.conn.Close()
}

// withWriteLock executes fn while holding the exclusive cross-process file
// lock, so two dcap processes sharing one queue cannot interleave mutations.
func (q *Queue) withWriteLock(fn func() error) error {
	locker := newWriteLocker(q.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// Enqueue appends one action and persists it before returning. It performs no
// remote work; all upstream risk is deferred to the sync engine.
func (q *Queue) Enqueue(kind models.ActionKind, targetID string, payload []byte) (string, error) {
	if !models.ValidKind(kind) {
		return "", fmt.Errorf("unknown action kind: %q", kind)
	}
	if targetID == "" {
		return "", fmt.Errorf("empty target id")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	id := uuid.NewString()
	err := q.withWriteLock(func() error {
		_, err := q.conn.Exec(
			`INSERT INTO actions (id, kind, target_id, payload, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
			id, string(kind), targetID, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Pending returns all queued actions in FIFO enqueue order.
func (q *Queue) Pending() ([]models.OfflineAction, error) {
	rows, err := q.conn.Query(
		`SELECT id, kind, target_id, payload, enqueued_at, retry_count FROM actions ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []models.OfflineAction
	for rows.Next() {
		var a models.OfflineAction
		var kind, payload, enqueued string
		if err := rows.Scan(&a.ID, &kind, &a.TargetID, &payload, &enqueued, &a.RetryCount); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Kind = models.ActionKind(kind)
		a.Payload = []byte(payload)
		a.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueued)
		if err != nil {
			return nil, fmt.Errorf("parse enqueued_at %q: %w", enqueued, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Count returns the number of pending actions.
func (q *Queue) Count() (int, error) {
	var n int
	if err := q.conn.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// Remove deletes one action by id. Removing an id that is already gone is not
// an error; a concurrent pass may have drained it.
func (q *Queue) Remove(id string) error {
	return q.withWriteLock(func() error {
		if _, err := q.conn.Exec(`DELETE FROM actions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete action: %w", err)
		}
		return nil
	})
}

// Clear discards every pending action.
func (q *Queue) Clear() error {
	return q.withWriteLock(func() error {
		if _, err := q.conn.Exec(`DELETE FROM actions`); err != nil {
			return fmt.Errorf("clear actions: %w", err)
		}
		return nil
	})
}

// MarkFailed increments an action's retry count after a failed sync attempt.
func (q *Queue) MarkFailed(id string) error {
	return q.withWriteLock(func() error {
		if _, err := q.conn.Exec(`UPDATE actions SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("bump retry count: %w", err)
		}
		return nil
	})
}
