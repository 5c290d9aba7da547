package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/retry"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "k", "sess-1", "u-1")
}

func TestApply_DispatchesByKind(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotBody = nil
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		kind       models.ActionKind
		payload    string
		wantMethod string
		wantPath   string
	}{
		{models.KindUpdateMetadata, `{"fields":{"vendor":"Acme"}}`, "PATCH", "/v1/documents/d1/metadata"},
		{models.KindValidateDocument, `{}`, "POST", "/v1/documents/d1/validate"},
		{models.KindAddComment, `{"body":"ok"}`, "POST", "/v1/documents/d1/comments"},
		{models.KindUpdateStatus, `{"status":"exported"}`, "PATCH", "/v1/documents/d1/status"},
	}
	for _, tc := range cases {
		action := models.OfflineAction{
			Kind:     tc.kind,
			TargetID: "d1",
			Payload:  json.RawMessage(tc.payload),
		}
		if err := c.Apply(context.Background(), action); err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if gotMethod != tc.wantMethod || gotPath != tc.wantPath {
			t.Fatalf("%s: got %s %s, want %s %s", tc.kind, gotMethod, gotPath, tc.wantMethod, tc.wantPath)
		}
	}

	if gotBody["status"] != "exported" {
		t.Fatalf("status body = %v", gotBody)
	}
}

func TestApply_UnknownKind(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	}))
	err := c.Apply(context.Background(), models.OfflineAction{Kind: "delete_everything", TargetID: "d1"})
	if err == nil || !strings.Contains(err.Error(), "unknown action kind") {
		t.Fatalf("err = %v", err)
	}
}

func TestDoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	if err := c.ValidateDocument(context.Background(), "d1"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestDoRequest_ErrorMapping(t *testing.T) {
	status := http.StatusServiceUnavailable
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"nope","message":"broken"}}`, status)
	}))

	err := c.ValidateDocument(context.Background(), "d1")
	var httpErr *retry.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("503: err = %v", err)
	}

	status = http.StatusUnauthorized
	if err := c.ValidateDocument(context.Background(), "d1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("401: err = %v", err)
	}

	status = http.StatusNotFound
	if err := c.ValidateDocument(context.Background(), "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404: err = %v", err)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	holder := models.DocumentLock{
		DocumentID:      "d1",
		HolderSessionID: "sess-other",
		HolderUserID:    "bob",
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(holder)
	}))

	lock, acquired, err := c.AcquireLock(context.Background(), "d1", 10*time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acquired {
		t.Fatal("acquired = true, want false")
	}
	if lock.HolderSessionID != "sess-other" {
		t.Fatalf("holder = %q, want sess-other", lock.HolderSessionID)
	}
}

func TestAcquireLock_Success(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["session_id"] != "sess-1" {
			t.Errorf("session_id = %v", req["session_id"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.DocumentLock{DocumentID: "d1", HolderSessionID: "sess-1"})
	}))

	lock, acquired, err := c.AcquireLock(context.Background(), "d1", 10*time.Minute)
	if err != nil || !acquired {
		t.Fatalf("acquire: acquired=%v err=%v", acquired, err)
	}
	if lock.HolderSessionID != "sess-1" {
		t.Fatalf("holder = %q", lock.HolderSessionID)
	}
}

func TestGetLock_AbsentIsNil(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"not_found","message":"no live lock"}}`, http.StatusNotFound)
	}))
	lock, err := c.GetLock(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock != nil {
		t.Fatalf("lock = %+v, want nil", lock)
	}
}

func TestChanges_StreamsAndClosesOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/changes" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(models.LockChange{Type: models.ChangeInsert, DocumentID: "d1"})
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Changes(ctx, "d1")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}

	select {
	case change := <-ch:
		if change.Type != models.ChangeInsert || change.DocumentID != "d1" {
			t.Fatalf("change = %+v", change)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel close after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestChanges_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "wrong", "sess-1", "u-1")

	if _, err := c.Changes(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
