package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nadia/dcap/internal/models"
)

// CreateDocument inserts a new document row. The id may be empty, in which
// case one is generated.
func (db *ServerDB) CreateDocument(doc models.Document) (models.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return doc, fmt.Errorf("marshal metadata: %w", err)
	}

	ts := db.timestamp()
	_, err = db.conn.Exec(
		`INSERT INTO documents (id, name, status, metadata, validated, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, string(doc.Status), string(meta), boolToInt(doc.Validated), ts, ts,
	)
	if err != nil {
		return doc, fmt.Errorf("insert document: %w", err)
	}

	return db.GetDocument(doc.ID)
}

// GetDocument returns one document, or ErrNotFound.
func (db *ServerDB) GetDocument(id string) (models.Document, error) {
	var doc models.Document
	var status, meta, created, updated string
	var validated int

	err := db.conn.QueryRow(
		`SELECT id, name, status, metadata, validated, created_at, updated_at FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.Name, &status, &meta, &validated, &created, &updated)
	if err == sql.ErrNoRows {
		return doc, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return doc, fmt.Errorf("query document: %w", err)
	}

	doc.Status = models.DocumentStatus(status)
	doc.Validated = validated != 0
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return doc, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if doc.CreatedAt, err = parseTime(created); err != nil {
		return doc, err
	}
	if doc.UpdatedAt, err = parseTime(updated); err != nil {
		return doc, err
	}
	return doc, nil
}

// UpdateMetadata merges the given keys into the document's metadata map.
// Existing keys not named are preserved.
func (db *ServerDB) UpdateMetadata(id string, patch map[string]string) (models.Document, error) {
	doc, err := db.GetDocument(id)
	if err != nil {
		return doc, err
	}

	for k, v := range patch {
		doc.Metadata[k] = v
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return doc, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = db.conn.Exec(
		`UPDATE documents SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(meta), db.timestamp(), id,
	)
	if err != nil {
		return doc, fmt.Errorf("update metadata: %w", err)
	}
	return db.GetDocument(id)
}

// ValidateDocument marks a document as reviewed and correct.
func (db *ServerDB) ValidateDocument(id string) (models.Document, error) {
	res, err := db.conn.Exec(
		`UPDATE documents SET validated = 1, status = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusValidated), db.timestamp(), id,
	)
	if err != nil {
		return models.Document{}, fmt.Errorf("validate document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return db.GetDocument(id)
}

// UpdateStatus sets a document's review status.
func (db *ServerDB) UpdateStatus(id string, status models.DocumentStatus) (models.Document, error) {
	if !models.ValidStatus(status) {
		return models.Document{}, fmt.Errorf("unknown status: %q", status)
	}
	res, err := db.conn.Exec(
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), db.timestamp(), id,
	)
	if err != nil {
		return models.Document{}, fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return db.GetDocument(id)
}

// AddComment attaches a reviewer note to a document.
func (db *ServerDB) AddComment(docID, body, authorID string) (models.Comment, error) {
	if _, err := db.GetDocument(docID); err != nil {
		return models.Comment{}, err
	}

	c := models.Comment{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Body:       body,
		AuthorID:   authorID,
	}
	ts := db.timestamp()
	_, err := db.conn.Exec(
		`INSERT INTO comments (id, document_id, body, author_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.Body, c.AuthorID, ts,
	)
	if err != nil {
		return c, fmt.Errorf("insert comment: %w", err)
	}
	c.CreatedAt, _ = parseTime(ts)
	return c, nil
}

// ListComments returns a document's comments, oldest first.
func (db *ServerDB) ListComments(docID string) ([]models.Comment, error) {
	rows, err := db.conn.Query(
		`SELECT id, document_id, body, author_id, created_at FROM comments WHERE document_id = ? ORDER BY created_at ASC`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		var created string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Body, &c.AuthorID, &created); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
