package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nadia/dcap/internal/models"
	"github.com/nadia/dcap/internal/retry"
)

// Sentinel errors for HTTP error classes the callers branch on. These are
// deliberately not retryable: retrying an auth failure or a missing document
// cannot succeed.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the dcap capture server.
type Client struct {
	BaseURL   string
	APIKey    string
	SessionID string
	UserID    string
	HTTP      *http.Client
}

// New creates a client bound to one session. Per-request deadlines come from
// the caller's context, so the underlying http.Client carries only a generous
// safety-net timeout.
func New(baseURL, apiKey, sessionID, userID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		SessionID: sessionID,
		UserID:    userID,
		HTTP:      &http.Client{Timeout: 60 * time.Second},
	}
}

// --- Action payloads (mirrors internal/server handlers, independently defined) ---

// MetadataPayload is the body of an update_metadata action.
type MetadataPayload struct {
	Fields map[string]string `json:"fields"`
}

// CommentPayload is the body of an add_comment action.
type CommentPayload struct {
	Body     string `json:"body"`
	AuthorID string `json:"author_id,omitempty"`
}

// StatusPayload is the body of an update_status action.
type StatusPayload struct {
	Status models.DocumentStatus `json:"status"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) error {
	var resp HealthResponse
	return c.doRequest(ctx, "GET", "/healthz", nil, &resp, false)
}

// --- Document mutations (one per queued action kind) ---

// UpdateMetadata patches the named metadata fields on a document.
func (c *Client) UpdateMetadata(ctx context.Context, docID string, fields map[string]string) error {
	return c.do(ctx, "PATCH", fmt.Sprintf("/v1/documents/%s/metadata", docID), fields, nil)
}

// ValidateDocument marks a document as validated.
func (c *Client) ValidateDocument(ctx context.Context, docID string) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/documents/%s/validate", docID), nil, nil)
}

// AddComment attaches a reviewer comment to a document.
func (c *Client) AddComment(ctx context.Context, docID, body, authorID string) error {
	payload := CommentPayload{Body: body, AuthorID: authorID}
	return c.do(ctx, "POST", fmt.Sprintf("/v1/documents/%s/comments", docID), payload, nil)
}

// UpdateStatus moves a document to a new workflow status.
func (c *Client) UpdateStatus(ctx context.Context, docID string, status models.DocumentStatus) error {
	payload := StatusPayload{Status: status}
	return c.do(ctx, "PATCH", fmt.Sprintf("/v1/documents/%s/status", docID), payload, nil)
}

// Apply replays one queued offline action against the server, dispatching on
// the action kind.
func (c *Client) Apply(ctx context.Context, action models.OfflineAction) error {
	switch action.Kind {
	case models.KindUpdateMetadata:
		var p MetadataPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", action.Kind, err)
		}
		return c.UpdateMetadata(ctx, action.TargetID, p.Fields)
	case models.KindValidateDocument:
		return c.ValidateDocument(ctx, action.TargetID)
	case models.KindAddComment:
		var p CommentPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", action.Kind, err)
		}
		return c.AddComment(ctx, action.TargetID, p.Body, p.AuthorID)
	case models.KindUpdateStatus:
		var p StatusPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", action.Kind, err)
		}
		return c.UpdateStatus(ctx, action.TargetID, p.Status)
	}
	return fmt.Errorf("unknown action kind %q", action.Kind)
}

// TriggerProcess nudges the server-side document processor. Best effort.
func (c *Client) TriggerProcess(ctx context.Context) error {
	return c.do(ctx, "POST", "/v1/process", nil, nil)
}

// --- Lock protocol ---

// lockRequest identifies this session on lock mutations.
type lockRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	LeaseSecs int    `json:"lease_secs,omitempty"`
}

// AcquireLock tries to take the advisory lock on a document. On contention it
// returns acquired=false plus the live holder's lock; that is an expected
// outcome, not an error.
func (c *Client) AcquireLock(ctx context.Context, docID string, lease time.Duration) (lock models.DocumentLock, acquired bool, err error) {
	body := lockRequest{SessionID: c.SessionID, UserID: c.UserID, LeaseSecs: int(lease.Seconds())}
	err = c.do(ctx, "POST", fmt.Sprintf("/v1/documents/%s/lock", docID), body, &lock)
	if err == nil {
		return lock, true, nil
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusConflict {
		var holder models.DocumentLock
		if jsonErr := json.Unmarshal([]byte(httpErr.Body), &holder); jsonErr != nil {
			return models.DocumentLock{}, false, fmt.Errorf("decode conflict holder: %w", jsonErr)
		}
		return holder, false, nil
	}
	return models.DocumentLock{}, false, err
}

// RenewLock extends this session's lease. A renewal after the lease already
// expired and another session took over reports ErrNotFound.
func (c *Client) RenewLock(ctx context.Context, docID string, lease time.Duration) (models.DocumentLock, error) {
	body := lockRequest{SessionID: c.SessionID, LeaseSecs: int(lease.Seconds())}
	var lock models.DocumentLock
	err := c.do(ctx, "PATCH", fmt.Sprintf("/v1/documents/%s/lock", docID), body, &lock)
	return lock, err
}

// ReleaseLock gives up this session's lock. Releasing a lock not held is a
// no-op on the server and succeeds here too.
func (c *Client) ReleaseLock(ctx context.Context, docID string) error {
	body := lockRequest{SessionID: c.SessionID}
	return c.do(ctx, "DELETE", fmt.Sprintf("/v1/documents/%s/lock", docID), body, nil)
}

// GetLock fetches the live lock on a document, or nil when unlocked.
func (c *Client) GetLock(ctx context.Context, docID string) (*models.DocumentLock, error) {
	var lock models.DocumentLock
	err := c.do(ctx, "GET", fmt.Sprintf("/v1/documents/%s/lock", docID), nil, &lock)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// --- HTTP helpers ---

const maxErrBody = 4 << 10

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, errMessage(respBody))
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, errMessage(respBody))
		}
		// Everything else carries the status so the retry layer can decide
		// whether the failure is transient.
		return &retry.HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// errMessage pulls the server's message out of an error body, falling back to
// the raw bytes.
func errMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return string(body)
}
