package queue

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nadia/dcap/internal/models"
)

// The persisted queue is plain sqlite rows with ISO-8601 timestamps; verify
// the on-disk representation directly, through a different driver than the
// one that wrote it.
func TestQueue_PersistedRepresentation(t *testing.T) {
	dir := t.TempDir()

	q, err := Initialize(dir)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	id, err := q.Enqueue(models.KindUpdateMetadata, "doc-9", []byte(`{"vendor":"acme"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := sql.Open("sqlite3", filepath.Join(dir, dbFile))
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer raw.Close()

	var gotID, kind, target, payload, enqueued string
	var retries int
	err = raw.QueryRow(
		`SELECT id, kind, target_id, payload, enqueued_at, retry_count FROM actions ORDER BY seq ASC`,
	).Scan(&gotID, &kind, &target, &payload, &enqueued, &retries)
	if err != nil {
		t.Fatalf("query raw: %v", err)
	}

	if gotID != id {
		t.Errorf("id: got %s, want %s", gotID, id)
	}
	if kind != string(models.KindUpdateMetadata) {
		t.Errorf("kind: got %s", kind)
	}
	if target != "doc-9" {
		t.Errorf("target: got %s", target)
	}
	if payload != `{"vendor":"acme"}` {
		t.Errorf("payload: got %s", payload)
	}
	if retries != 0 {
		t.Errorf("retry_count: got %d, want 0", retries)
	}
	if _, err := time.Parse(time.RFC3339Nano, enqueued); err != nil {
		t.Errorf("enqueued_at not ISO-8601: %q (%v)", enqueued, err)
	}
}
