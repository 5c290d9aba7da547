package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/serverdb"
)

// DefaultLease is the lock lease granted when the client does not ask for a
// specific duration.
const DefaultLease = 10 * time.Minute

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string            `json:"id,omitempty"`
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "name is required")
		return
	}

	doc, err := s.store.CreateDocument(models.Document{ID: req.ID, Name: req.Name, Metadata: req.Metadata})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.store.UpdateMetadata(r.PathValue("id"), patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.ValidateDocument(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.DocumentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.store.UpdateStatus(r.PathValue("id"), req.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body     string `json:"body"`
		AuthorID string `json:"author_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body is required")
		return
	}
	c, err := s.store.AddComment(r.PathValue("id"), req.Body, req.AuthorID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// --- Lock protocol ---

// lockRequest identifies the calling session for lock mutations.
type lockRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	LeaseSecs int    `json:"lease_secs,omitempty"`
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "session_id is required")
		return
	}

	lease := DefaultLease
	if req.LeaseSecs > 0 {
		lease = time.Duration(req.LeaseSecs) * time.Second
	}

	docID := r.PathValue("id")
	res, err := s.store.AcquireLock(docID, req.SessionID, req.UserID, lease)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if !res.Acquired {
		// Expected contention, not a failure: report the live holder.
		writeJSON(w, http.StatusConflict, res.Lock)
		return
	}

	s.hub.Publish(models.LockChange{Type: models.ChangeInsert, DocumentID: docID, Lock: &res.Lock})
	writeJSON(w, http.StatusCreated, res.Lock)
}

func (s *Server) handleRenewLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "session_id is required")
		return
	}

	lease := DefaultLease
	if req.LeaseSecs > 0 {
		lease = time.Duration(req.LeaseSecs) * time.Second
	}

	docID := r.PathValue("id")
	renewed, err := s.store.RenewLock(docID, req.SessionID, lease)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !renewed {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "caller does not hold the lock")
		return
	}

	lock, err := s.store.GetLock(docID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.LockChange{Type: models.ChangeUpdate, DocumentID: docID, Lock: lock})
	writeJSON(w, http.StatusOK, lock)
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "session_id is required")
		return
	}

	docID := r.PathValue("id")
	released, err := s.store.ReleaseLock(docID, req.SessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if released {
		s.hub.Publish(models.LockChange{Type: models.ChangeDelete, DocumentID: docID})
	}
	// Releasing a lock you no longer hold is fine; the end state is the same.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	lock, err := s.store.GetLock(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if lock == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live lock")
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

// handleProcess triggers the downstream queue processor. The trigger is
// advisory only: it is detached, never awaited by clients, and never a
// correctness dependency.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	go func() {
		// Placeholder for the real extraction pipeline hook; failures are
		// logged, never surfaced.
		slog.Debug("processor trigger received")
	}()
	w.WriteHeader(http.StatusAccepted)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, serverdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}
