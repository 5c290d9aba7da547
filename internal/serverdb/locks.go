package serverdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nadia/dcap/internal/models"
)

// AcquireResult reports the outcome of a lock acquisition attempt.
type AcquireResult struct {
	Acquired bool
	// Lock is the live row after the attempt: the caller's on success, the
	// current holder's on conflict.
	Lock models.DocumentLock
}

// AcquireLock attempts to take the advisory lock on a document. Expired rows
// are reclaimed first so a crashed session cannot strand a document. The
// insert is INSERT OR IGNORE against the document_id primary key; zero rows
// affected means a live holder exists and the attempt loses.
func (db *ServerDB) AcquireLock(docID, sessionID, userID string, lease time.Duration) (AcquireResult, error) {
	var result AcquireResult

	if _, err := db.GetDocument(docID); err != nil {
		return result, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := db.now().UTC()
	// Reclaim any lapsed lease before trying.
	if _, err := tx.Exec(`DELETE FROM document_locks WHERE document_id = ? AND expires_at < ?`,
		docID, now.Format(timeLayout)); err != nil {
		return result, fmt.Errorf("reclaim expired lock: %w", err)
	}

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO document_locks (document_id, holder_session_id, holder_user_id, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		docID, sessionID, userID, now.Format(timeLayout), now.Add(lease).Format(timeLayout),
	)
	if err != nil {
		return result, fmt.Errorf("insert lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("rows affected: %w", err)
	}

	lock, err := getLockTx(tx, docID)
	if err != nil {
		return result, err
	}
	if lock == nil {
		// The row we just inserted (or the holder's row) vanished mid-tx;
		// should not happen with a single connection.
		return result, fmt.Errorf("lock row missing after insert")
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit: %w", err)
	}

	result.Acquired = rows > 0
	result.Lock = *lock
	return result, nil
}

// RenewLock extends the lease on the caller's own lock row. Returns false
// when the caller does not currently hold the lock.
func (db *ServerDB) RenewLock(docID, sessionID string, lease time.Duration) (bool, error) {
	res, err := db.conn.Exec(
		`UPDATE document_locks SET expires_at = ? WHERE document_id = ? AND holder_session_id = ?`,
		db.now().UTC().Add(lease).Format(timeLayout), docID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseLock deletes the caller's own lock row. It never touches a lock
// held by a different session. Returns false if the caller held nothing.
func (db *ServerDB) ReleaseLock(docID, sessionID string) (bool, error) {
	res, err := db.conn.Exec(
		`DELETE FROM document_locks WHERE document_id = ? AND holder_session_id = ?`,
		docID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLock returns the live lock row for a document, or nil when there is
// none. An expired row is treated as absent.
func (db *ServerDB) GetLock(docID string) (*models.DocumentLock, error) {
	var l models.DocumentLock
	var acquired, expires string

	err := db.conn.QueryRow(
		`SELECT document_id, holder_session_id, holder_user_id, acquired_at, expires_at
		 FROM document_locks WHERE document_id = ?`, docID,
	).Scan(&l.DocumentID, &l.HolderSessionID, &l.HolderUserID, &acquired, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}

	if l.AcquiredAt, err = parseTime(acquired); err != nil {
		return nil, err
	}
	if l.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if l.Expired(db.now()) {
		return nil, nil
	}
	return &l, nil
}

func getLockTx(tx *sql.Tx, docID string) (*models.DocumentLock, error) {
	var l models.DocumentLock
	var acquired, expires string

	err := tx.QueryRow(
		`SELECT document_id, holder_session_id, holder_user_id, acquired_at, expires_at
		 FROM document_locks WHERE document_id = ?`, docID,
	).Scan(&l.DocumentID, &l.HolderSessionID, &l.HolderUserID, &acquired, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}

	if l.AcquiredAt, err = parseTime(acquired); err != nil {
		return nil, err
	}
	if l.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	return &l, nil
}
