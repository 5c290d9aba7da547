package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind identifies the remote mutation a queued action performs.
// Adding a kind requires a matching handler in the sync engine.
type ActionKind string

const (
	KindUpdateMetadata   ActionKind = "update_metadata"
	KindValidateDocument ActionKind = "validate_document"
	KindAddComment       ActionKind = "add_comment"
	KindUpdateStatus     ActionKind = "update_status"
)

// ValidKind reports whether k is one of the known action kinds.
func ValidKind(k ActionKind) bool {
	switch k {
	case KindUpdateMetadata, KindValidateDocument, KindAddComment, KindUpdateStatus:
		return true
	}
	return false
}

// OfflineAction is one buffered mutation waiting to be replayed against the
// server. Actions are stored and replayed in FIFO enqueue order.
type OfflineAction struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"kind"`
	TargetID   string          `json:"target_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// DocumentStatus represents the review status of a captured document.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusExtracted DocumentStatus = "extracted"
	StatusValidated DocumentStatus = "validated"
	StatusExported  DocumentStatus = "exported"
	StatusRejected  DocumentStatus = "rejected"
)

// ValidStatus reports whether s is one of the known document statuses.
func ValidStatus(s DocumentStatus) bool {
	switch s {
	case StatusPending, StatusExtracted, StatusValidated, StatusExported, StatusRejected:
		return true
	}
	return false
}

// Document is the remote entity queued actions apply to. Only the fields the
// client reads back are modeled; extraction results live in Metadata.
type Document struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    DocumentStatus    `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Validated bool              `json:"validated"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Comment is a reviewer note attached to a document.
type Comment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Body       string    `json:"body"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentLock is an advisory exclusive lease on one document. At most one
// non-expired row may exist per DocumentID; a row with ExpiresAt in the past
// must be treated as absent by all readers.
type DocumentLock struct {
	DocumentID      string    `json:"document_id"`
	HolderSessionID string    `json:"holder_session_id"`
	HolderUserID    string    `json:"holder_user_id"`
	AcquiredAt      time.Time `json:"acquired_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed as of now.
func (l *DocumentLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockState is the lock situation as seen by one session.
type LockState int

const (
	Unlocked LockState = iota
	LockedBySelf
	LockedByOther
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case LockedBySelf:
		return "locked-by-self"
	case LockedByOther:
		return "locked-by-other"
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// ChangeType classifies a lock-table change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// LockChange is one change-feed event for a document's lock row. Lock is nil
// for delete events.
type LockChange struct {
	Type       ChangeType    `json:"type"`
	DocumentID string        `json:"document_id"`
	Lock       *DocumentLock `json:"lock,omitempty"`
}
