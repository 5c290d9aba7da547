package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nadia/dcap/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local CLI sessions, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one websocket client on the change feed. A subscriber with an
// empty docID receives changes for every document.
type subscriber struct {
	conn  *websocket.Conn
	docID string
	send  chan models.LockChange
	once  sync.Once
}

func (sub *subscriber) close() {
	sub.once.Do(func() {
		close(sub.send)
	})
}

// Hub fans lock changes out to the connected change-feed subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish delivers a lock change to every subscriber watching the document.
// Slow consumers are dropped rather than allowed to stall the lock handlers.
func (h *Hub) Publish(change models.LockChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.docID != "" && sub.docID != change.DocumentID {
			continue
		}
		select {
		case sub.send <- change:
		default:
			slog.Warn("dropping slow change-feed subscriber", "document_id", sub.docID)
			delete(h.subs, sub)
			sub.close()
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close()
	}
}

// CloseAll disconnects every subscriber. Used on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// handleChanges upgrades the request to a websocket and streams lock changes.
// Auth happens here instead of in requireAuth because browsers and some
// websocket clients cannot set the Authorization header on upgrade requests.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.config.APIKey != "" && bearerToken(r) != s.config.APIKey {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid API key")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn:  conn,
		docID: r.URL.Query().Get("document_id"),
		send:  make(chan models.LockChange, sendBuffer),
	}
	s.hub.add(sub)

	go s.writePump(sub)
	s.readPump(sub)
}

// readPump drains inbound frames so pong handling works and disconnects are
// noticed promptly. Clients are not expected to send application messages.
func (s *Server) readPump(sub *subscriber) {
	defer func() {
		s.hub.remove(sub)
		sub.conn.Close()
	}()
	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case change, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := sub.conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
