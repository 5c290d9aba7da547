package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nadia/dcap/internal/models"
)

const dialTimeout = 10 * time.Second

// Changes opens the server's lock change feed for one document, or for every
// document when docID is empty. The returned channel closes when the
// connection drops or ctx is cancelled; resubscription is the caller's job.
func (c *Client) Changes(ctx context.Context, docID string) (<-chan models.LockChange, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/changes"

	q := u.Query()
	if c.APIKey != "" {
		// The upgrade request cannot carry an Authorization header from every
		// client, so the key rides in the query string.
		q.Set("key", c.APIKey)
	}
	if docID != "" {
		q.Set("document_id", docID)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: change feed rejected key", ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	out := make(chan models.LockChange)

	// Close the socket when the caller goes away so the read loop unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var change models.LockChange
			if err := conn.ReadJSON(&change); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("change feed closed", "error", err)
				}
				return
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
